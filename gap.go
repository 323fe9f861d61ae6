package gatt

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// AdvState is the state of the GAP handler.
type AdvState int

const (
	AdvIdle AdvState = iota
	AdvAdvertising
)

func (s AdvState) String() string {
	if s == AdvAdvertising {
		return "advertising"
	}
	return "idle"
}

// An Advertiser starts advertising each time the stack reports that
// the advertising data is set. It has no other transitions; repeated
// completion events re-issue the same request.
type Advertiser struct {
	gap    GAP
	params AdvParams
	log    logrus.FieldLogger

	mu     sync.Mutex
	state  AdvState
	starts int
}

// NewAdvertiser returns an idle Advertiser issuing requests to gap
// with the fixed DefaultAdvParams.
func NewAdvertiser(gap GAP, log logrus.FieldLogger) *Advertiser {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Advertiser{
		gap:    gap,
		params: DefaultAdvParams(),
		log:    log.WithField("cb", "gap"),
	}
}

// HandleGAPEvent implements GAPHandler.
func (a *Advertiser) HandleGAPEvent(e GAPEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch e := e.(type) {
	case AdvDataSetEvent:
		a.state = AdvAdvertising
		a.starts++
		if err := a.gap.StartAdvertising(a.params); err != nil {
			a.log.WithError(err).Warn("start advertising failed")
			return
		}
		min, max := a.params.Interval()
		a.log.WithFields(logrus.Fields{
			"status":       e.Status,
			"interval_min": min,
			"interval_max": max,
		}).Debug("advertising data set, advertising started")
	case AdvStartEvent:
		if !e.Status.OK() {
			a.log.WithField("status", e.Status).Warn("advertising start reported failure")
		}
	case AdvStopEvent:
		a.log.WithField("status", e.Status).Debug("advertising stopped")
	case UnhandledGAPEvent:
		a.log.WithField("code", e.Code).Debug("ignored gap event")
	default:
		a.log.Debugf("ignored gap event %T", e)
	}
}

// State returns the current state.
func (a *Advertiser) State() AdvState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Starts returns the number of start-advertising requests issued.
func (a *Advertiser) Starts() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.starts
}

// Params returns the advertising parameters.
func (a *Advertiser) Params() AdvParams { return a.params }
