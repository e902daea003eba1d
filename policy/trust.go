package policy

// FileMeta is the ownership/mode metadata VerifyTrust needs to decide
// whether a policy source is safe to read (§5 "Privilege discipline").
type FileMeta struct {
	Exists  bool
	Regular bool
	UID     uint32
	GID     uint32
	// Mode holds the permission bits only (mode & 07777), matching the
	// spec's "mode & 07777 == configured mode" test.
	Mode uint32
}

// TrustConfig is the configured sudoers-uid/gid/mode triple a policy
// source must match (§5, §6 settings sudoers_uid/sudoers_gid/sudoers_mode).
type TrustConfig struct {
	UID  uint32
	GID  uint32
	Mode uint32
}

// DefaultTrustConfig is root-owned, mode 0440: the reference default.
func DefaultTrustConfig() TrustConfig {
	return TrustConfig{UID: 0, GID: 0, Mode: 0o440}
}

// VerifyTrust implements §5's policy-source trust check: the source must
// be a regular file, owned by cfg.UID, with permission bits exactly
// cfg.Mode, and — only when the mode grants group read access — owned by
// cfg.GID. Any mismatch fails with PolicyFileUntrusted.
func VerifyTrust(fsys FileSystem, path string, cfg TrustConfig) error {
	meta, ok := fsys.FileMeta(path)
	if !ok || !meta.Exists {
		return &Error{Kind: KindPolicyFileUntrusted, Reason: path + ": not found"}
	}
	if !meta.Regular {
		return &Error{Kind: KindPolicyFileUntrusted, Reason: path + ": not a regular file"}
	}
	if meta.UID != cfg.UID {
		return &Error{Kind: KindPolicyFileUntrusted, Reason: path + ": wrong owner"}
	}
	if meta.Mode != cfg.Mode {
		return &Error{Kind: KindPolicyFileUntrusted, Reason: path + ": wrong mode"}
	}
	const groupReadable = 0o040
	if meta.Mode&groupReadable != 0 && meta.GID != cfg.GID {
		return &Error{Kind: KindPolicyFileUntrusted, Reason: path + ": wrong group"}
	}
	return nil
}
