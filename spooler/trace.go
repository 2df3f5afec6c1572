package spooler

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

// dateLayout renders the capture time the way collectors expect it
// ("Mon Jan 02 15:04:05 MST 2006").
const dateLayout = "Mon Jan 02 15:04:05 MST 2006"

// AppInfo identifies the application build a fault belongs to.
type AppInfo struct {
	Package     string `yaml:"package"`
	VersionCode string `yaml:"version_code"`
	VersionName string `yaml:"version_name"`
}

// DeviceInfo is host metadata. Identifier is a stable installation id and
// may be empty.
type DeviceInfo struct {
	OS           string `yaml:"os"`
	Manufacturer string `yaml:"manufacturer"`
	Model        string `yaml:"model"`
	Identifier   string `yaml:"identifier"`
}

// RuntimeDeviceInfo fills the fields left empty in d from the Go runtime and
// the host name.
func RuntimeDeviceInfo(d DeviceInfo) DeviceInfo {
	if d.OS == "" {
		d.OS = runtime.GOOS + "/" + runtime.GOARCH
	}
	if d.Manufacturer == "" {
		d.Manufacturer = runtime.Version()
	}
	if d.Model == "" {
		if host, err := os.Hostname(); err == nil {
			d.Model = host
		}
	}
	return d
}

// Fault is one panic or error together with the stack that raised it.
type Fault struct {
	Value any
	Stack []byte
	// Goroutine labels where the fault happened, for logs only.
	Goroutine string
	Time      time.Time
}

// NewFault captures the current goroutine's stack for value.
func NewFault(value any) *Fault {
	return &Fault{Value: value, Stack: debug.Stack(), Time: time.Now()}
}

// Text renders the fault the way the runtime prints an unrecovered panic.
func (f *Fault) Text() string {
	var b strings.Builder
	switch v := f.Value.(type) {
	case error:
		fmt.Fprintf(&b, "panic: %+v\n", v)
	default:
		fmt.Fprintf(&b, "panic: %v\n", v)
	}
	if len(f.Stack) > 0 {
		b.WriteString("\n")
		b.Write(f.Stack)
	}
	return b.String()
}

// FormatTrace builds the text persisted and uploaded for one fault. The
// collector expects the package name on the first line.
func FormatTrace(app AppInfo, device DeviceInfo, l Listener, now time.Time, faultText string) string {
	l = listenerOrBase(l)
	var b strings.Builder
	fmt.Fprintf(&b, "Package: %s\n", app.Package)
	fmt.Fprintf(&b, "Version Code: %s\n", app.VersionCode)
	fmt.Fprintf(&b, "Version Name: %s\n", app.VersionName)

	if l.IncludeDeviceData() {
		fmt.Fprintf(&b, "OS: %s\n", device.OS)
		fmt.Fprintf(&b, "Manufacturer: %s\n", device.Manufacturer)
		fmt.Fprintf(&b, "Model: %s\n", device.Model)
	}
	if device.Identifier != "" && l.IncludeDeviceIdentifier() {
		fmt.Fprintf(&b, "CrashReporter Key: %s\n", device.Identifier)
	}
	fmt.Fprintf(&b, "Date: %s\n", now.Format(dateLayout))
	b.WriteString("\n")
	b.WriteString(faultText)
	return b.String()
}
