package config

// MountOptions holds high-level settings for mounting.
// No go-fuse types are exposed here.
type MountOptions struct {
	Debug      bool   // fuse debug logs
	FsName     string // mount's FsName, shown as the source in mount tables
	Name       string // mount's Name, the fuse.<Name> filesystem subtype
	AllowOther bool   // let users other than the mounter access the tree
}
