package safety

// defaultApprovalKeyword is the ORANGE-tier approval phrase used when the
// config does not supply one. Operators are expected to change it.
const defaultApprovalKeyword = "i understand the risks"

// defaultProtectedVMIDs returns the built-in protected VM table. VMID 103 is
// the management VM that hosts the control plane itself; stopping it would
// take the plane down with it.
func defaultProtectedVMIDs() map[int]string {
	return map[int]string{
		103: "management VM hosting the control plane",
	}
}

// defaultProtectedServices returns the services that host the plane.
func defaultProtectedServices() []string {
	return []string{"jarvisd", "jarvis-ear", "llama-server"}
}

// defaultAllowedBases returns the directory roots user paths may resolve
// under.
func defaultAllowedBases() []string {
	return []string{
		"/home",
		"/tmp",
		"/mnt",
		"/srv",
		"/var/log",
		"/var/lib/vz",
	}
}

// defaultProtectedPaths returns always-blocked path prefixes. A trailing
// separator protects the whole subtree.
func defaultProtectedPaths() []string {
	return []string{
		"/etc/pve/priv/",
		"/etc/shadow",
		"/etc/sudoers",
		"/etc/sudoers.d/",
		"/root/.ssh/",
		"/boot/",
		"/proc/",
		"/sys/",
	}
}
