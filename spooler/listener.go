package spooler

// Listener lets the embedding application supply per-fault metadata, steer
// the consent policy and observe upload outcomes. Embed BaseListener and
// override what you need.
type Listener interface {
	// IncludeDeviceData controls the OS/Manufacturer/Model trace lines.
	IncludeDeviceData() bool
	// IncludeDeviceIdentifier controls the CrashReporter Key trace line.
	IncludeDeviceIdentifier() bool

	UserID() string
	Contact() string
	Description() string

	// IgnoreDefaultHandler makes the capture terminate the process itself
	// instead of handing the fault to the previous handler.
	IgnoreDefaultHandler() bool
	// ShouldAutoUploadCrashes skips the consent prompt for new records.
	ShouldAutoUploadCrashes() bool
	// OnCrashesFound is called when new records exist; returning true also
	// skips the prompt.
	OnCrashesFound() bool

	OnNewCrashesFound()
	OnConfirmedCrashesFound()
	OnUserDeniedCrashes()
	OnCrashesSent()
	OnCrashesNotSent()
}

// BaseListener is the default listener: device data included, no metadata,
// prompt the user, ignore every notification.
type BaseListener struct{}

func (BaseListener) IncludeDeviceData() bool       { return true }
func (BaseListener) IncludeDeviceIdentifier() bool { return true }
func (BaseListener) UserID() string                { return "" }
func (BaseListener) Contact() string               { return "" }
func (BaseListener) Description() string           { return "" }
func (BaseListener) IgnoreDefaultHandler() bool    { return false }
func (BaseListener) ShouldAutoUploadCrashes() bool { return false }
func (BaseListener) OnCrashesFound() bool          { return false }
func (BaseListener) OnNewCrashesFound()            {}
func (BaseListener) OnConfirmedCrashesFound()      {}
func (BaseListener) OnUserDeniedCrashes()          {}
func (BaseListener) OnCrashesSent()                {}
func (BaseListener) OnCrashesNotSent()             {}

// Metadata is the user-supplied part of a handled fault report.
type Metadata struct {
	UserID      string
	Contact     string
	Description string
}

// metadataListener answers the metadata hooks from a fixed Metadata, the way
// a handled fault is reported.
type metadataListener struct {
	BaseListener
	meta Metadata
}

func (l metadataListener) UserID() string      { return l.meta.UserID }
func (l metadataListener) Contact() string     { return l.meta.Contact }
func (l metadataListener) Description() string { return l.meta.Description }

func listenerOrBase(l Listener) Listener {
	if l == nil {
		return BaseListener{}
	}
	return l
}
