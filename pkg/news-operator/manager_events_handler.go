package news_operator

import (
	"context"
	"log/slog"

	"github.com/deckhouse/deckhouse/pkg/log"

	schedulemanager "github.com/flant/news-operator/pkg/schedule_manager"
)

type managerEventsHandlerConfig struct {
	smgr       schedulemanager.ScheduleManager
	scheduleCb func(crontab string)

	logger *log.Logger
}

// ManagerEventsHandler reads events from managers and passes them to callbacks.
type ManagerEventsHandler struct {
	ctx    context.Context
	cancel context.CancelFunc

	scheduleManager schedulemanager.ScheduleManager
	scheduleCb      func(crontab string)

	logger *log.Logger
}

func newManagerEventsHandler(ctx context.Context, cfg *managerEventsHandlerConfig) *ManagerEventsHandler {
	cctx, cancel := context.WithCancel(ctx)

	return &ManagerEventsHandler{
		ctx:             cctx,
		cancel:          cancel,
		scheduleManager: cfg.smgr,
		scheduleCb:      cfg.scheduleCb,
		logger:          cfg.logger,
	}
}

func (m *ManagerEventsHandler) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

func (m *ManagerEventsHandler) Start() {
	go func() {
		logEntry := m.logger.With(slog.String("operator.component", "handleEvents"))
		for {
			select {
			case crontab := <-m.scheduleManager.Ch():
				logEntry.Debug("Schedule event", slog.String("crontab", crontab))
				if m.scheduleCb != nil {
					m.scheduleCb(crontab)
				}

			case <-m.ctx.Done():
				logEntry.Info("Stop")
				return
			}
		}
	}()
}
