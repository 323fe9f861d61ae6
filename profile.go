package gatt

// A ServiceID identifies a service to be created.
type ServiceID struct {
	Primary bool
	UUID    UUID
	InstID  uint8
}

// ProfileStatus is the setup progress of a profile,
// derived from which of its handles are populated.
type ProfileStatus int

const (
	StatusUnregistered ProfileStatus = iota
	StatusServiceCreating
	StatusServiceCreated
	StatusReady
)

func (s ProfileStatus) String() string {
	str := []string{
		"unregistered",
		"service_creating",
		"service_created",
		"ready",
	}
	if int(s) < 0 || int(s) >= len(str) {
		return "unknown"
	}
	return str[int(s)]
}

// A Profile is the mutable state of the tripod profile.
// It is owned by a Server and only mutated from event dispatch.
type Profile struct {
	GattIf        GattIf
	AppID         uint16
	ServiceID     ServiceID
	ServiceHandle Handle
	CharHandle    Handle
	Value         int32
	CCCD          uint16

	// handles holds the last successfully installed attribute table.
	handles *handleRange
}

func newProfile(appID uint16) Profile {
	return Profile{GattIf: GattIfNone, AppID: appID}
}

// Status reports how far setup has progressed.
// A table that was installed but rejected leaves the
// profile in StatusServiceCreated.
func (p *Profile) Status() ProfileStatus {
	switch {
	case p.GattIf == GattIfNone:
		return StatusUnregistered
	case !p.ServiceHandle.Valid():
		return StatusServiceCreating
	case !p.CharHandle.Valid():
		return StatusServiceCreated
	}
	return StatusReady
}

// Ready reports whether the characteristic value handle is known.
func (p *Profile) Ready() bool { return p.CharHandle.Valid() }

// CCCDHandle returns the handle of the configuration descriptor,
// or NoHandle if the table has not been installed.
func (p *Profile) CCCDHandle() Handle {
	if p.handles == nil {
		return NoHandle
	}
	return p.handles.At(IdxCharCfg)
}

// NotifyEnabled reports whether the client enabled notifications.
func (p *Profile) NotifyEnabled() bool { return p.CCCD&CCCNotifyFlag != 0 }
