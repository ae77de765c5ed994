package calls

import (
	"context"
	"log/slog"

	"peersupport-platform/pkg/logger"
)

// ThreadAppender is the slice of the messaging service the missed-call
// logger needs: append one system line to the thread between two users.
type ThreadAppender interface {
	AppendSystem(ctx context.Context, userA, userB, body string) error
}

// MissedCallLogger writes the human-readable missed-call line into the
// conversation thread between the two parties.
//
// The write is best-effort: a failure is logged and swallowed so it can never
// affect the status transition that triggered it.
type MissedCallLogger struct {
	threads ThreadAppender
	log     *slog.Logger
}

func NewMissedCallLogger(threads ThreadAppender, log *slog.Logger) *MissedCallLogger {
	return &MissedCallLogger{threads: threads, log: logger.Component(log, "missed-call")}
}

// Log appends the missed-call line for the session to the caller-receiver
// thread, creating the thread if it does not exist yet.
func (l *MissedCallLogger) Log(ctx context.Context, sess CallSession) {
	if l == nil || l.threads == nil {
		return
	}
	if err := l.threads.AppendSystem(ctx, sess.CallerID, sess.ReceiverID, MissedCallLine(sess.Kind)); err != nil {
		l.log.Warn("missed-call line not written",
			"session_id", sess.ID,
			"caller_id", sess.CallerID,
			"receiver_id", sess.ReceiverID,
			"error", err,
		)
	}
}

// MissedCallLine renders the thread line for a missed call of the given kind.
func MissedCallLine(kind SessionKind) string {
	if kind == KindVideo {
		return "📹 Missed video call"
	}
	return "📞 Missed audio call"
}
