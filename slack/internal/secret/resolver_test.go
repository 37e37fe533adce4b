package secret

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	calctesting "github.com/malbeclabs/slack-calculator/utils/pkg/testing"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	data   []byte
	err    error
	calls  int
	bucket string
	object string
}

func (f *fakeStore) Fetch(ctx context.Context, bucket, object string) ([]byte, error) {
	f.calls++
	f.bucket, f.object = bucket, object
	return f.data, f.err
}

type fakeDecrypter struct {
	plaintext  []byte
	err        error
	calls      int
	keyPath    string
	ciphertext string
}

func (f *fakeDecrypter) Decrypt(ctx context.Context, keyPath, ciphertext string) ([]byte, error) {
	f.calls++
	f.keyPath, f.ciphertext = keyPath, ciphertext
	return f.plaintext, f.err
}

var testLocation = Location{
	Bucket:  "secrets-bucket",
	Object:  "slack-signing-secret.enc",
	KeyPath: "arn:aws:kms:us-east-1:111122223333:key/abcd",
}

func newTestResolver(t *testing.T, store ObjectStore, dec Decrypter) *Resolver {
	t.Helper()
	r, err := NewResolver(ResolverConfig{
		Logger:    calctesting.NewLogger(),
		Store:     store,
		Decrypter: dec,
	})
	require.NoError(t, err)
	return r
}

func TestCalc_Secret_Resolve(t *testing.T) {
	t.Parallel()

	store := &fakeStore{data: []byte{0x01, 0x02, 0xff}}
	dec := &fakeDecrypter{plaintext: []byte("  s3cr3t\n")}
	r := newTestResolver(t, store, dec)

	got, err := r.Resolve(context.Background(), testLocation)
	require.NoError(t, err)
	require.Equal(t, "s3cr3t", got)

	require.Equal(t, 1, store.calls)
	require.Equal(t, testLocation.Bucket, store.bucket)
	require.Equal(t, testLocation.Object, store.object)

	require.Equal(t, 1, dec.calls)
	require.Equal(t, testLocation.KeyPath, dec.keyPath)
	require.Equal(t, base64.StdEncoding.EncodeToString([]byte{0x01, 0x02, 0xff}), dec.ciphertext)
}

func TestCalc_Secret_Resolve_NotCached(t *testing.T) {
	t.Parallel()

	store := &fakeStore{data: []byte("blob")}
	dec := &fakeDecrypter{plaintext: []byte("s3cr3t")}
	r := newTestResolver(t, store, dec)

	for i := 0; i < 3; i++ {
		_, err := r.Resolve(context.Background(), testLocation)
		require.NoError(t, err)
	}
	require.Equal(t, 3, store.calls)
	require.Equal(t, 3, dec.calls)
}

func TestCalc_Secret_Resolve_FetchError(t *testing.T) {
	t.Parallel()

	cause := errors.New("access denied")
	store := &fakeStore{err: cause}
	dec := &fakeDecrypter{plaintext: []byte("s3cr3t")}
	r := newTestResolver(t, store, dec)

	_, err := r.Resolve(context.Background(), testLocation)
	require.ErrorIs(t, err, ErrInfrastructure)
	require.ErrorIs(t, err, cause)
	require.Equal(t, 1, store.calls, "no retries")
	require.Equal(t, 0, dec.calls, "decrypt must not run after a failed fetch")
}

func TestCalc_Secret_Resolve_DecryptError(t *testing.T) {
	t.Parallel()

	cause := errors.New("invalid ciphertext")
	store := &fakeStore{data: []byte("blob")}
	dec := &fakeDecrypter{err: cause}
	r := newTestResolver(t, store, dec)

	_, err := r.Resolve(context.Background(), testLocation)
	require.ErrorIs(t, err, ErrInfrastructure)
	require.ErrorIs(t, err, cause)
	require.Equal(t, 1, dec.calls)
}

func TestCalc_Secret_NewResolver_Validate(t *testing.T) {
	t.Parallel()

	_, err := NewResolver(ResolverConfig{Store: &fakeStore{}, Decrypter: &fakeDecrypter{}})
	require.ErrorContains(t, err, "logger is required")

	_, err = NewResolver(ResolverConfig{Logger: calctesting.NewLogger(), Decrypter: &fakeDecrypter{}})
	require.ErrorContains(t, err, "object store is required")

	_, err = NewResolver(ResolverConfig{Logger: calctesting.NewLogger(), Store: &fakeStore{}})
	require.ErrorContains(t, err, "decrypter is required")
}

func TestCalc_Secret_Location_Validate(t *testing.T) {
	t.Parallel()

	require.NoError(t, testLocation.Validate())

	loc := testLocation
	loc.Bucket = ""
	require.ErrorContains(t, loc.Validate(), "bucket is required")

	loc = testLocation
	loc.Object = ""
	require.ErrorContains(t, loc.Validate(), "object is required")

	loc = testLocation
	loc.KeyPath = ""
	require.ErrorContains(t, loc.Validate(), "key path is required")
}

type fakeS3 struct {
	body  string
	err   error
	input *s3.GetObjectInput
}

func (f *fakeS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(f.body))}, nil
}

type fakeKMS struct {
	plaintext []byte
	err       error
	input     *kms.DecryptInput
}

func (f *fakeKMS) Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &kms.DecryptOutput{Plaintext: f.plaintext}, nil
}

func TestCalc_Secret_S3Store_Fetch(t *testing.T) {
	t.Parallel()

	client := &fakeS3{body: "ciphertext-bytes"}
	got, err := NewS3Store(client).Fetch(context.Background(), "bucket", "object")
	require.NoError(t, err)
	require.Equal(t, []byte("ciphertext-bytes"), got)
	require.Equal(t, "bucket", aws.ToString(client.input.Bucket))
	require.Equal(t, "object", aws.ToString(client.input.Key))

	client = &fakeS3{err: errors.New("NoSuchKey")}
	_, err = NewS3Store(client).Fetch(context.Background(), "bucket", "object")
	require.ErrorContains(t, err, "get object")

	client = &fakeS3{body: strings.Repeat("a", maxObjectSize+1)}
	_, err = NewS3Store(client).Fetch(context.Background(), "bucket", "object")
	require.ErrorContains(t, err, "object exceeds")
}

func TestCalc_Secret_KMSDecrypter_Decrypt(t *testing.T) {
	t.Parallel()

	client := &fakeKMS{plaintext: []byte("s3cr3t")}
	ciphertext := base64.StdEncoding.EncodeToString([]byte{0xde, 0xad})
	got, err := NewKMSDecrypter(client).Decrypt(context.Background(), "alias/slack", ciphertext)
	require.NoError(t, err)
	require.Equal(t, []byte("s3cr3t"), got)
	require.Equal(t, []byte{0xde, 0xad}, client.input.CiphertextBlob)
	require.Equal(t, "alias/slack", aws.ToString(client.input.KeyId))

	_, err = NewKMSDecrypter(client).Decrypt(context.Background(), "alias/slack", "not base64!")
	require.ErrorContains(t, err, "decode ciphertext")

	client = &fakeKMS{err: errors.New("AccessDeniedException")}
	_, err = NewKMSDecrypter(client).Decrypt(context.Background(), "alias/slack", ciphertext)
	require.ErrorContains(t, err, "kms decrypt")
}
