// Package buildinfo carries version metadata stamped at link time.
package buildinfo

import "runtime/debug"

var (
    Version = "dev"
    Commit  = ""
    BuiltAt = ""
)

// Info reports the stamped metadata, falling back to the module's VCS
// revision when the linker flags were not set.
func Info() map[string]string {
    commit := Commit
    if commit == "" {
        if bi, ok := debug.ReadBuildInfo(); ok {
            for _, s := range bi.Settings {
                if s.Key == "vcs.revision" {
                    commit = s.Value
                    break
                }
            }
        }
    }
    return map[string]string{
        "version": Version,
        "commit":  commit,
        "builtAt": BuiltAt,
    }
}
