package sessions

import (
	"context"
	"time"

	"dilag/internal/logging"
	"dilag/internal/types"
)

const questionRejectTimeout = 5 * time.Second

// ReplyQuestion answers a pending question. The question is removed locally
// whatever the runtime says.
func (o *Orchestrator) ReplyQuestion(ctx context.Context, requestID string, answers [][]string) bool {
	ctx = beginOp(ctx)
	question, ok := o.realtime.Question(requestID)
	if !ok {
		return false
	}
	o.stopQuestionTimer(requestID)
	err := o.sdk.ReplyQuestion(ctx, requestID, answers)
	o.realtime.RemoveQuestion(requestID)
	if err != nil {
		o.setError(ctx, "reply question", err, logging.F("session_id", question.SessionID), logging.F("question_id", requestID))
		return false
	}
	return true
}

func (o *Orchestrator) RejectQuestion(ctx context.Context, requestID string) bool {
	ctx = beginOp(ctx)
	question, ok := o.realtime.Question(requestID)
	if !ok {
		return false
	}
	o.stopQuestionTimer(requestID)
	err := o.sdk.RejectQuestion(ctx, requestID)
	o.realtime.RemoveQuestion(requestID)
	if err != nil {
		o.log(ctx).Warn("remote_question_reject_failed",
			logging.F("session_id", question.SessionID),
			logging.F("question_id", requestID),
			logging.Err(err),
		)
	}
	return true
}

func (o *Orchestrator) PendingQuestions() []types.PendingQuestion {
	return o.realtime.PendingQuestions()
}

func (o *Orchestrator) startQuestionTimer(question types.PendingQuestion) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.questionTimers[question.ID]; ok {
		return
	}
	requestID := question.ID
	o.questionTimers[requestID] = o.afterFunc(o.cfg.QuestionTimeout, func() {
		o.expireQuestion(requestID)
	})
}

func (o *Orchestrator) stopQuestionTimer(requestID string) {
	o.mu.Lock()
	stop, ok := o.questionTimers[requestID]
	delete(o.questionTimers, requestID)
	o.mu.Unlock()
	if ok {
		stop()
	}
}

func (o *Orchestrator) stopAllQuestionTimers() {
	o.mu.Lock()
	timers := o.questionTimers
	o.questionTimers = map[string]func() bool{}
	o.mu.Unlock()
	for _, stop := range timers {
		stop()
	}
}

func (o *Orchestrator) stopQuestionTimers(sessionID string) {
	for _, question := range o.realtime.PendingQuestions() {
		if question.SessionID == sessionID {
			o.stopQuestionTimer(question.ID)
		}
	}
}

// expireQuestion force-resolves a question nobody answered in time.
func (o *Orchestrator) expireQuestion(requestID string) {
	o.mu.Lock()
	delete(o.questionTimers, requestID)
	o.mu.Unlock()
	question, ok := o.realtime.Question(requestID)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(o.ctx, questionRejectTimeout)
	defer cancel()
	if err := o.sdk.RejectQuestion(ctx, requestID); err != nil {
		o.logger.Debug("remote_question_reject_failed", logging.F("question_id", requestID), logging.Err(err))
	}
	o.realtime.RemoveQuestion(requestID)
	aborted := o.realtime.AbortRunningTools(question.SessionID)
	o.logger.Warn("question_timed_out",
		logging.F("session_id", question.SessionID),
		logging.F("question_id", requestID),
		logging.F("aborted_tools", aborted),
	)
}
