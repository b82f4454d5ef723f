package runtime

import (
	"runtime"
	"sync"
	"time"

	"github.com/pion/logging"
)

// perfMonitor periodically logs a liveness snapshot: goroutine count and
// the peer, upload and download counts pulled from the runtime's own
// tables. It is the
// "performance monitor" startup stage; LocalTalk has no metrics sink to
// export to, so the snapshot is logged rather than published.
type perfMonitor struct {
	interval time.Duration
	snapshot func() perfSnapshot
	log      logging.LeveledLogger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

type perfSnapshot struct {
	uploadSessions   int
	downloadSessions int
	peers            int
}

func newPerfMonitor(interval time.Duration, snapshot func() perfSnapshot, log logging.LeveledLogger) *perfMonitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &perfMonitor{
		interval: interval,
		snapshot: snapshot,
		log:      log,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (p *perfMonitor) start() {
	go p.loop()
}

func (p *perfMonitor) loop() {
	defer close(p.doneCh)
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-t.C:
			p.report()
		}
	}
}

func (p *perfMonitor) report() {
	s := p.snapshot()
	p.log.Infof("goroutines=%d peers=%d uploads=%d downloads=%d",
		runtime.NumGoroutine(), s.peers, s.uploadSessions, s.downloadSessions)
}

func (p *perfMonitor) stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		<-p.doneCh
	})
}
