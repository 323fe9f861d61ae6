package gatt

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Errors reported by Controller.NVSInit that are recovered by
// erasing the storage and initializing it again.
var (
	ErrNVSNoFreePages = errors.New("nvs: no free pages")
	ErrNVSNewVersion  = errors.New("nvs: new version found")
)

// A Peripheral is the tripod application: a GATTS server and
// the advertiser that restarts advertising.
type Peripheral struct {
	*Server
	Adv *Advertiser
}

// NewPeripheral creates the server and advertiser over a stack
// implementing both GATTS and GAP.
func NewPeripheral(gatts GATTS, gap GAP, opts ...Option) *Peripheral {
	s := NewServer(gatts, gap, opts...)
	return &Peripheral{Server: s, Adv: NewAdvertiser(gap, s.log)}
}

// Bootstrap brings up the stack and registers the application:
// storage, controller memory, controller, host, callbacks, then
// the application registration. Each step must succeed; the first
// failure is returned, naming the step.
func Bootstrap(ctx context.Context, c Controller, p *Peripheral) error {
	appID := p.profile.AppID
	log := p.log.WithField("app_id", appID)

	steps := []struct {
		name string
		fn   func() error
	}{
		{"nvs init", func() error { return initNVS(c, log) }},
		{"release classic bt memory", func() error { return c.MemRelease(ModeClassicBT) }},
		{"controller init", c.ControllerInit},
		{"controller enable", func() error { return c.ControllerEnable(ModeBLE) }},
		{"host init", c.HostInit},
		{"host enable", c.HostEnable},
		{"register gatts callback", func() error { return c.RegisterGATTSCallback(p.Server) }},
		{"register gap callback", func() error { return c.RegisterGAPCallback(p.Adv) }},
		{"app register", func() error { return c.AppRegister(appID) }},
	}
	for _, st := range steps {
		if err := ctx.Err(); err != nil {
			return errors.Wrapf(err, "bootstrap: before %s", st.name)
		}
		if err := st.fn(); err != nil {
			return errors.Wrapf(err, "bootstrap: %s", st.name)
		}
		log.Debugf("bootstrap: %s done", st.name)
	}
	log.Info("bootstrap complete")
	return nil
}

func initNVS(c Controller, log logrus.FieldLogger) error {
	err := c.NVSInit()
	switch errors.Cause(err) {
	case nil:
		return nil
	case ErrNVSNoFreePages, ErrNVSNewVersion:
		log.WithError(err).Warn("nvs: erasing and retrying")
		if err := c.NVSErase(); err != nil {
			return errors.Wrap(err, "erase")
		}
		return c.NVSInit()
	}
	return err
}
