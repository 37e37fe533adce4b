package command

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/malbeclabs/slack-calculator/slack/internal/calculator"
	"github.com/malbeclabs/slack-calculator/slack/internal/metrics"
	"github.com/slack-go/slack"
)

// Handler answers calculator slash commands. It must only be reached through
// the signature gate.
type Handler struct {
	log *slog.Logger
}

func NewHandler(log *slog.Logger) *Handler {
	return &Handler{log: log}
}

// Respond evaluates a slash command and renders the reply. The returned error
// is the calculation error, if any; it is already rendered into the message.
func Respond(command, text string) (slack.Msg, error) {
	msg := slack.Msg{ResponseType: slack.ResponseTypeInChannel}

	expr, err := calculator.ParseExpression(command, text)
	if err != nil {
		msg.Blocks.BlockSet = errorBlocks(err.Error())
		return msg, err
	}

	result, err := calculator.Calculate(expr)
	if err != nil {
		msg.Blocks.BlockSet = errorBlocks(err.Error())
		return msg, err
	}

	msg.Blocks.BlockSet = successBlocks(expr, result)
	return msg, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cmd, err := slack.SlashCommandParse(r)
	if err != nil {
		h.log.Debug("command: failed to parse slash command", "error", err)
		http.Error(w, "Failed to parse slash command.", http.StatusBadRequest)
		return
	}

	// Slack periodically verifies the endpoint certificate with a signed ssl_check post.
	if r.PostForm.Get("ssl_check") == "1" {
		w.WriteHeader(http.StatusOK)
		return
	}

	msg, calcErr := Respond(cmd.Command, cmd.Text)

	label := cmd.Command
	if !calculator.IsCommand(label) {
		label = "unknown"
	}
	metrics.RecordCommand(label, calcErr)
	if calcErr != nil {
		var cmdErr *calculator.InvalidCommandError
		var textErr *calculator.InvalidTextError
		if !errors.As(calcErr, &cmdErr) && !errors.As(calcErr, &textErr) && !errors.Is(calcErr, calculator.ErrDivisionByZero) {
			h.log.Error("command: unexpected calculation error", "command", cmd.Command, "error", calcErr)
		}
	}
	h.log.Debug("command: handled", "command", cmd.Command, "team_id", cmd.TeamID, "user_id", cmd.UserID, "error", calcErr)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(msg); err != nil {
		h.log.Error("command: failed to write response", "error", err)
	}
}
