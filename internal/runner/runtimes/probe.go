package runtimes

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/tgifai/launchpad/internal/pkg/logs"
)

const probeTimeout = 5 * time.Second

var versionPattern = regexp.MustCompile(`v?(\d+\.\d+(?:\.\d+)?)`)

type ProbeResult struct {
	Runtime   string
	Available bool
	Version   *semver.Version
	Satisfied bool
	Err       error
}

// Probe checks every runtime interpreter that declares VersionArgs. Missing
// interpreters and unsatisfied constraints are reported, never fatal: the
// service can still run programs for the other runtimes.
func (t *Table) Probe(ctx context.Context) []ProbeResult {
	var results []ProbeResult
	for _, rt := range t.List() {
		if len(rt.VersionArgs) == 0 {
			continue
		}
		res := probeOne(ctx, rt)
		switch {
		case !res.Available:
			logs.CtxWarn(ctx, "[runtimes] %s unavailable: %v", rt.Name, res.Err)
		case res.Err != nil:
			logs.CtxWarn(ctx, "[runtimes] %s version check failed: %v", rt.Name, res.Err)
		case !res.Satisfied:
			logs.CtxWarn(ctx, "[runtimes] %s %s does not satisfy %q", rt.Name, res.Version, rt.VersionConstraint)
		default:
			logs.CtxInfo(ctx, "[runtimes] %s %s ready", rt.Name, res.Version)
		}
		results = append(results, res)
	}
	return results
}

func probeOne(ctx context.Context, rt *Runtime) ProbeResult {
	res := ProbeResult{Runtime: rt.Name}
	if _, err := exec.LookPath(rt.Command[0]); err != nil {
		res.Err = err
		return res
	}
	res.Available = true

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, rt.Command[0], rt.VersionArgs...).CombinedOutput()
	if err != nil {
		res.Err = fmt.Errorf("run %s %v: %w", rt.Command[0], rt.VersionArgs, err)
		return res
	}

	res.Version, res.Err = ParseVersion(string(out))
	if res.Err != nil {
		return res
	}
	res.Satisfied, res.Err = Satisfies(res.Version, rt.VersionConstraint)
	return res
}

// ParseVersion extracts the first dotted version from interpreter output
// such as "Python 3.11.4" or "v20.11.1".
func ParseVersion(output string) (*semver.Version, error) {
	m := versionPattern.FindStringSubmatch(output)
	if m == nil {
		return nil, fmt.Errorf("no version found in %q", output)
	}
	return semver.NewVersion(m[1])
}

// Satisfies reports whether v meets constraint. An empty constraint always passes.
func Satisfies(v *semver.Version, constraint string) (bool, error) {
	if constraint == "" {
		return true, nil
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, fmt.Errorf("parse constraint %q: %w", constraint, err)
	}
	return c.Check(v), nil
}
