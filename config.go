package jitasm

import (
	"io"

	"github.com/nikandfor/errors"
	"github.com/xyproto/env/v2"

	"github.com/vapoursynth/jitasm/api"
	"github.com/vapoursynth/jitasm/internal/abi"
)

// Environment variables read by NewCompilerConfig.
const (
	// EnvPlatform names the default platform: amd64-sysv, amd64-windows or x86.
	EnvPlatform = "JITASM_PLATFORM"
	// EnvValidate enables the post-allocation checks when set to a true value.
	EnvValidate = "JITASM_VALIDATE"
)

// CompilerConfig controls compilation, with the default implementation as NewCompilerConfig.
//
// Note: CompilerConfig is immutable. Each WithXXX function returns a new instance including the corresponding change.
type CompilerConfig interface {
	// WithPlatform sets the register environment code is allocated for.
	WithPlatform(api.Platform) CompilerConfig

	// WithPlatformName is WithPlatform for a platform known by name. Unknown names fail at compilation.
	WithPlatformName(name string) CompilerConfig

	// WithValidation enables the checks run on every allocation: the register pressure bound,
	// the consistency of the assignments and the stability of the liveness solution.
	WithValidation(bool) CompilerConfig

	// WithGraphDump writes the annotated control flow graph of every compilation in Graphviz format to w.
	WithGraphDump(w io.Writer) CompilerConfig

	// Platform returns the configured platform.
	Platform() api.Platform
}

type compilerConfig struct {
	platform    api.Platform
	platformErr error
	validate    bool
	graph       io.Writer
}

// NewCompilerConfig returns a config for the platform named by JITASM_PLATFORM, amd64-sysv if unset.
// Validation is enabled by JITASM_VALIDATE.
func NewCompilerConfig() CompilerConfig {
	ret := (&compilerConfig{}).WithPlatformName(env.Str(EnvPlatform, abi.NameAMD64SysV)).(*compilerConfig)
	ret.validate = env.Bool(EnvValidate)
	return ret
}

// clone ensures all fields are copied.
func (c *compilerConfig) clone() *compilerConfig {
	ret := *c
	return &ret
}

// WithPlatform implements CompilerConfig.WithPlatform
func (c *compilerConfig) WithPlatform(p api.Platform) CompilerConfig {
	ret := c.clone()
	ret.platform, ret.platformErr = p, nil
	return ret
}

// WithPlatformName implements CompilerConfig.WithPlatformName
func (c *compilerConfig) WithPlatformName(name string) CompilerConfig {
	ret := c.clone()
	p, ok := abi.ByName(name)
	if !ok {
		ret.platformErr = errors.New("unknown platform %q, want one of %v", name, abi.Names())
		return ret
	}
	ret.platform, ret.platformErr = p, nil
	return ret
}

// WithValidation implements CompilerConfig.WithValidation
func (c *compilerConfig) WithValidation(enabled bool) CompilerConfig {
	ret := c.clone()
	ret.validate = enabled
	return ret
}

// WithGraphDump implements CompilerConfig.WithGraphDump
func (c *compilerConfig) WithGraphDump(w io.Writer) CompilerConfig {
	ret := c.clone()
	ret.graph = w
	return ret
}

// Platform implements CompilerConfig.Platform
func (c *compilerConfig) Platform() api.Platform {
	return c.platform
}
