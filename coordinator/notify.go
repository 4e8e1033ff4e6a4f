package coordinator

import (
	log "github.com/sirupsen/logrus"

	"board-sync/domain"
)

// LogNotifier reports gesture outcomes through logrus. It is the default
// sink for headless use; interactive frontends supply their own Notifier.
type LogNotifier struct {
	Logger *log.Logger
}

func (n LogNotifier) logger() *log.Logger {
	if n.Logger != nil {
		return n.Logger
	}
	return log.StandardLogger()
}

func (n LogNotifier) MoveSaved(task domain.Task, fromLane, toLane string) {
	n.logger().WithFields(log.Fields{
		"item": task.ID,
		"from": fromLane,
		"to":   toLane,
	}).Infof("moved %q from %s to %s", title(task), fromLane, toLane)
}

func (n LogNotifier) MoveFailed(task domain.Task, err error) {
	detail := "the move was not saved"
	if err != nil {
		detail = err.Error()
	}
	n.logger().WithField("item", task.ID).Errorf("could not move %q: %s", title(task), detail)
}

func (n LogNotifier) MoveCancelled(task domain.Task) {
	n.logger().WithField("item", task.ID).Debugf("move of %q cancelled", title(task))
}

func title(task domain.Task) string {
	if task.Title != "" {
		return task.Title
	}
	return task.ID
}
