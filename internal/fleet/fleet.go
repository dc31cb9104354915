// Package fleet defines typed structs for the built-in fleet entity types.
//
// Each struct implements entity.Source; its Properties method reports the
// declared properties by name. Empty strings and nil pointers are reported
// as absent.
package fleet

// Environment is one account/name deployment.
type Environment struct {
	AccountNumber string
	Name          string
}

func (Environment) Label() string { return "Environment" }

func (e Environment) Properties() map[string]any {
	return props("account_number", e.AccountNumber, "name", e.Name)
}

// EnvironmentIdentity returns the identity of the environment with the
// given account number and name.
func EnvironmentIdentity(accountNumber, name string) string {
	return accountNumber + "-" + name
}

// Host is one machine within an environment.
type Host struct {
	Hostname    string
	Environment string // environment identity

	Architecture            string
	BiosDate                string
	BiosVersion             string
	DefaultIPv4Address      string
	DefaultIPv6Address      string
	Kernel                  string
	MemTotalMB              *int64
	LSBCodename             string
	LSBDescription          string
	LSBID                   string
	LSBMajorRelease         string
	LSBRelease              string
	FQDN                    string
	PkgMgr                  string
	ProcessorCores          *int64
	ProcessorCount          *int64
	ProcessorThreadsPerCore *int64
	ProcessorVCPUs          *int64
	PythonExecutable        string
	PythonVersion           string
	PythonType              string
	ServiceMgr              string
	SELinux                 string
	AnsibleVersionFull      string
}

func (Host) Label() string { return "Host" }

func (h Host) Properties() map[string]any {
	return props(
		"hostname", h.Hostname,
		"environment", h.Environment,
		"architecture", h.Architecture,
		"bios_date", h.BiosDate,
		"bios_version", h.BiosVersion,
		"default_ipv4_address", h.DefaultIPv4Address,
		"default_ipv6_address", h.DefaultIPv6Address,
		"kernel", h.Kernel,
		"memtotal_mb", h.MemTotalMB,
		"lsb_codename", h.LSBCodename,
		"lsb_description", h.LSBDescription,
		"lsb_id", h.LSBID,
		"lsb_major_release", h.LSBMajorRelease,
		"lsb_release", h.LSBRelease,
		"fqdn", h.FQDN,
		"pkg_mgr", h.PkgMgr,
		"processor_cores", h.ProcessorCores,
		"processor_count", h.ProcessorCount,
		"processor_threads_per_core", h.ProcessorThreadsPerCore,
		"processor_vcpus", h.ProcessorVCPUs,
		"python_executable", h.PythonExecutable,
		"python_version", h.PythonVersion,
		"python_type", h.PythonType,
		"service_mgr", h.ServiceMgr,
		"selinux", h.SELinux,
		"ansible_version_full", h.AnsibleVersionFull,
	)
}

// HostIdentity returns the identity of hostname within environment.
func HostIdentity(hostname, environment string) string {
	return hostname + "-" + environment
}

// AptPackage is an installed Debian package.
type AptPackage struct {
	Name    string
	Version string
}

func (AptPackage) Label() string { return "AptPackage" }

func (p AptPackage) Properties() map[string]any {
	return props("name", p.Name, "version", p.Version)
}

// Virtualenv is a python virtual environment on a host.
type Virtualenv struct {
	Path string
	Host string // host identity
}

func (Virtualenv) Label() string { return "Virtualenv" }

func (v Virtualenv) Properties() map[string]any {
	return props("path", v.Path, "host", v.Host)
}

// PythonPackage is a package installed in a virtualenv.
type PythonPackage struct {
	Name    string
	Version string
}

func (PythonPackage) Label() string { return "PythonPackage" }

func (p PythonPackage) Properties() map[string]any {
	return props("name", p.Name, "version", p.Version)
}

// Configfile is a tracked configuration file on a host.
type Configfile struct {
	Path     string
	Host     string // host identity
	Name     string
	MD5      string
	Contents string
}

func (Configfile) Label() string { return "Configfile" }

func (c Configfile) Properties() map[string]any {
	return props("path", c.Path, "host", c.Host, "name", c.Name, "md5", c.MD5, "contents", c.Contents)
}

// NameServer is a resolver address.
type NameServer struct {
	IP string
}

func (NameServer) Label() string { return "NameServer" }

func (n NameServer) Properties() map[string]any { return props("ip", n.IP) }

// Interface is a network interface on a host.
type Interface struct {
	Device      string
	Host        string
	Active      *bool
	IPv4Address string
	IPv6Address string
	MACAddress  string
	MTU         *int64
	Promisc     *bool
	Type        string
}

func (Interface) Label() string { return "Interface" }

func (i Interface) Properties() map[string]any {
	return props(
		"device", i.Device,
		"host", i.Host,
		"active", i.Active,
		"ipv4_address", i.IPv4Address,
		"ipv6_address", i.IPv6Address,
		"macaddress", i.MACAddress,
		"mtu", i.MTU,
		"promisc", i.Promisc,
		"type", i.Type,
	)
}

// Mount is a mounted filesystem on a host.
type Mount struct {
	Mount     string
	Host      string
	Device    string
	SizeTotal *int64
	FSType    string
}

func (Mount) Label() string { return "Mount" }

func (m Mount) Properties() map[string]any {
	return props("mount", m.Mount, "host", m.Host, "device", m.Device, "size_total", m.SizeTotal, "fstype", m.FSType)
}

// Device is a block device on a host.
type Device struct {
	Name       string
	Host       string
	Removable  string
	Rotational string
	Size       string
}

func (Device) Label() string { return "Device" }

func (d Device) Properties() map[string]any {
	return props("name", d.Name, "host", d.Host, "removable", d.Removable, "rotational", d.Rotational, "size", d.Size)
}

// Partition is a partition of a block device.
type Partition struct {
	Name   string
	Device string // device identity
	Size   string
	Start  string
}

func (Partition) Label() string { return "Partition" }

func (p Partition) Properties() map[string]any {
	return props("name", p.Name, "device", p.Device, "size", p.Size, "start", p.Start)
}

// GitRepo is a source checkout within an environment.
type GitRepo struct {
	Path               string
	Environment        string
	ActiveBranchName   string
	HeadSHA            string
	IsDetached         *bool
	WorkingTreeDirty   *bool
	WorkingTreeDiffMD5 string
	MergeBaseName      string
	MergeBaseDiffMD5   string
}

func (GitRepo) Label() string { return "GitRepo" }

func (g GitRepo) Properties() map[string]any {
	return props(
		"path", g.Path,
		"environment", g.Environment,
		"active_branch_name", g.ActiveBranchName,
		"head_sha", g.HeadSHA,
		"is_detached", g.IsDetached,
		"working_tree_dirty", g.WorkingTreeDirty,
		"working_tree_diff_md5", g.WorkingTreeDiffMD5,
		"merge_base_name", g.MergeBaseName,
		"merge_base_diff_md5", g.MergeBaseDiffMD5,
	)
}

// GitUntrackedFile is an untracked path inside a checkout.
type GitUntrackedFile struct {
	Path string
}

func (GitUntrackedFile) Label() string { return "GitUntrackedFile" }

func (f GitUntrackedFile) Properties() map[string]any { return props("path", f.Path) }

// GitRemote is a named remote of a checkout.
type GitRemote struct {
	Name string
	Repo string // repo identity
}

func (GitRemote) Label() string { return "GitRemote" }

func (r GitRemote) Properties() map[string]any { return props("name", r.Name, "repo", r.Repo) }

// GitURL is one URL of a remote.
type GitURL struct {
	URL string
}

func (GitURL) Label() string { return "GitUrl" }

func (u GitURL) Properties() map[string]any { return props("url", u.URL) }

// Uservar is a user-supplied deployment variable.
type Uservar struct {
	Name        string
	Environment string
	Value       any
}

func (Uservar) Label() string { return "Uservar" }

func (u Uservar) Properties() map[string]any {
	return props("name", u.Name, "environment", u.Environment, "value", u.Value)
}

// props builds a property map from alternating name/value pairs, skipping
// empty strings and nil pointers.
func props(kv ...any) map[string]any {
	out := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		name := kv[i].(string)
		switch v := kv[i+1].(type) {
		case nil:
		case string:
			if v != "" {
				out[name] = v
			}
		case *int64:
			if v != nil {
				out[name] = *v
			}
		case *bool:
			if v != nil {
				out[name] = *v
			}
		default:
			out[name] = v
		}
	}
	return out
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }
