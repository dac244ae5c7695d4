// Package toolchain defines toolchain identity and on-disk toolchain state.
//
// A toolchain is identified either by a channel descriptor (a release
// channel or explicit version, an optional date, and a target triple) or
// by a custom name. Channel descriptors are parsed from user-supplied
// names such as "stable", "nightly-2026-08-01" or "1.43.0-aarch64-apple-darwin"
// and resolved against the host triple; anything that does not match the
// channel grammar is treated as a custom name.
//
// On-disk state is intentionally simple: a toolchain directory is
// Installed if and only if its components manifest exists. The installer
// writes that file as the final step of a committed transaction, so no
// reader can ever observe a partially installed toolchain.
package toolchain
