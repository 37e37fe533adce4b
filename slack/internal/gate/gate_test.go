package gate

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/malbeclabs/slack-calculator/slack/internal/signature"
	calctesting "github.com/malbeclabs/slack-calculator/utils/pkg/testing"
	"github.com/stretchr/testify/require"
)

type fakeVerifier struct {
	outcome signature.Outcome
	err     error
	got     signature.Request
	calls   int
}

func (f *fakeVerifier) Verify(ctx context.Context, req signature.Request) (signature.Outcome, error) {
	f.calls++
	f.got = req
	return f.outcome, f.err
}

func newTestGate(t *testing.T, v Verifier) *Gate {
	t.Helper()
	g, err := New(Config{Logger: calctesting.NewLogger(), Verifier: v})
	require.NoError(t, err)
	return g
}

func TestCalc_Gate_Authorize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		outcome    signature.Outcome
		err        error
		want       Decision
		wantStatus int
	}{
		{name: "valid proceeds", outcome: signature.Valid, want: Proceed, wantStatus: http.StatusOK},
		{name: "invalid rejects", outcome: signature.Invalid, want: Reject, wantStatus: http.StatusBadRequest},
		{name: "transient failure fails", outcome: signature.TransientFailure, err: errors.New("s3 down"), want: Fail, wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			g := newTestGate(t, &fakeVerifier{outcome: tt.outcome, err: tt.err})
			got := g.Authorize(context.Background(), signature.Request{})
			require.Equal(t, tt.want, got)
			require.Equal(t, tt.wantStatus, got.StatusCode())
		})
	}
}

func TestCalc_Gate_Middleware(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		outcome     signature.Outcome
		err         error
		wantStatus  int
		wantBody    string
		wantReached bool
	}{
		{name: "valid reaches handler", outcome: signature.Valid, wantStatus: http.StatusOK, wantBody: "handled", wantReached: true},
		{name: "invalid is 400", outcome: signature.Invalid, wantStatus: http.StatusBadRequest, wantBody: InvalidSignatureMessage},
		{name: "transient failure is 500", outcome: signature.TransientFailure, err: errors.New("kms down"), wantStatus: http.StatusInternalServerError, wantBody: InternalErrorMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			verifier := &fakeVerifier{outcome: tt.outcome, err: tt.err}
			g := newTestGate(t, verifier)

			reached := false
			var downstreamBody string
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				reached = true
				b, _ := io.ReadAll(r.Body)
				downstreamBody = string(b)
				_, _ = w.Write([]byte("handled"))
			})

			req := httptest.NewRequest(http.MethodPost, "/slack/commands", strings.NewReader("command=%2Fadd&text=4+5"))
			req.Header.Set(signature.HeaderSignature, "v0=abc")
			req.Header.Set(signature.HeaderTimestamp, "1000000000")
			rec := httptest.NewRecorder()

			g.Middleware(next).ServeHTTP(rec, req)

			require.Equal(t, tt.wantStatus, rec.Code)
			require.Contains(t, rec.Body.String(), tt.wantBody)
			require.Equal(t, tt.wantReached, reached)
			if tt.wantReached {
				require.Equal(t, "command=%2Fadd&text=4+5", downstreamBody, "body is restored for the handler")
			}

			require.Equal(t, 1, verifier.calls)
			require.Equal(t, "v0=abc", verifier.got.Signature)
			require.Equal(t, "1000000000", verifier.got.Timestamp)
			require.Equal(t, []byte("command=%2Fadd&text=4+5"), verifier.got.RawBody)
		})
	}
}

func TestCalc_Gate_Middleware_BodyTooLarge(t *testing.T) {
	t.Parallel()

	verifier := &fakeVerifier{outcome: signature.Valid}
	g := newTestGate(t, verifier)

	req := httptest.NewRequest(http.MethodPost, "/slack/commands", strings.NewReader(strings.Repeat("a", MaxBodyBytes+1)))
	rec := httptest.NewRecorder()
	g.Middleware(http.NotFoundHandler()).ServeHTTP(rec, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	require.Zero(t, verifier.calls)
}

func TestCalc_Gate_New_Validate(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Verifier: &fakeVerifier{}})
	require.ErrorContains(t, err, "logger is required")

	_, err = New(Config{Logger: calctesting.NewLogger()})
	require.ErrorContains(t, err, "verifier is required")
}

func TestCalc_Gate_Decision_String(t *testing.T) {
	t.Parallel()

	require.Equal(t, "proceed", Proceed.String())
	require.Equal(t, "reject", Reject.String())
	require.Equal(t, "fail", Fail.String())
	require.Equal(t, "decision(7)", Decision(7).String())
}
