package forensics

// OperatingSystem tags a dump or plugin with its target platform.
type OperatingSystem string

const (
	OSLinux   OperatingSystem = "Linux"
	OSWindows OperatingSystem = "Windows"
	OSMac     OperatingSystem = "Mac"
	OSOther   OperatingSystem = "Other"
)

// String returns the string representation of the OperatingSystem.
func (os OperatingSystem) String() string { return string(os) }

// UsesBanner reports whether symbol availability for the platform is gated on
// a detected kernel banner.
func (os OperatingSystem) UsesBanner() bool {
	return os == OSLinux || os == OSMac
}
