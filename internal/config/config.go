// Package config loads series issuance files.
//
// A series file is YAML (or JSON) or CUE. Every file, whatever its format,
// is unified with the embedded #Series schema and must be concrete before it
// is decoded, so a typo'd field or a malformed duration is reported with the
// file position it came from.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
	cueyaml "cuelang.org/go/encoding/yaml"
	"gopkg.in/yaml.v3"

	"github.com/arcbond/bondengine/internal/account"
	"github.com/arcbond/bondengine/internal/engine"
	"github.com/arcbond/bondengine/internal/fixed"
)

//go:embed schema.cue
var schemaSource string

// Series is the on-disk form of engine.Params. Empty fields take defaults.
type Series struct {
	Name        string `yaml:"name,omitempty" json:"name,omitempty"`
	Symbol      string `yaml:"symbol,omitempty" json:"symbol,omitempty"`
	AssetSymbol string `yaml:"asset_symbol,omitempty" json:"asset_symbol,omitempty"`

	Owner   string `yaml:"owner" json:"owner"`
	Custody string `yaml:"custody,omitempty" json:"custody,omitempty"`

	IssuedAt         string `yaml:"issued_at" json:"issued_at"`
	Maturity         string `yaml:"maturity,omitempty" json:"maturity,omitempty"`
	SnapshotInterval string `yaml:"snapshot_interval,omitempty" json:"snapshot_interval,omitempty"`

	Cap string `yaml:"cap,omitempty" json:"cap,omitempty"`

	// Pointer because 0 is a valid reserve.
	ReservePercent    *int `yaml:"reserve_percent,omitempty" json:"reserve_percent,omitempty"`
	MintRatio         int  `yaml:"mint_ratio,omitempty" json:"mint_ratio,omitempty"`
	CouponDenominator int  `yaml:"coupon_denominator,omitempty" json:"coupon_denominator,omitempty"`
}

// Error is a config problem, positioned when the source is known.
type Error struct {
	Path    string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	field := e.Path
	if field == "" {
		field = "series"
	}
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), field, e.Message)
	}
	return fmt.Sprintf("%s: %s", field, e.Message)
}

// Errors flattens err into its config errors. Errors not produced by this
// package are returned as a single unpositioned entry.
func Errors(err error) []*Error {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []*Error
		for _, e := range joined.Unwrap() {
			out = append(out, Errors(e)...)
		}
		return out
	}
	var ce *Error
	if errors.As(err, &ce) {
		return []*Error{ce}
	}
	return []*Error{{Message: err.Error()}}
}

// Load reads and validates a series file. The format follows the extension:
// .cue is CUE, anything else is YAML.
func Load(path string) (*Series, error) {
	if filepath.Ext(path) == ".cue" {
		return loadCUE(path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read series file: %w", err)
	}
	return Parse(data, path)
}

// Parse validates YAML (or JSON) series data. filename only labels
// positions in errors.
func Parse(data []byte, filename string) (*Series, error) {
	file, err := cueyaml.Extract(filename, data)
	if err != nil {
		return nil, convertCUEError(err)
	}
	ctx := cuecontext.New()
	if err := check(ctx, ctx.BuildFile(file)); err != nil {
		return nil, err
	}

	var s Series
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, &Error{Message: fmt.Sprintf("decode: %v", err), Pos: token.NoPos}
	}
	return &s, nil
}

func loadCUE(path string) (*Series, error) {
	ctx := cuecontext.New()
	insts := load.Instances([]string{filepath.Base(path)}, &load.Config{Dir: filepath.Dir(path)})
	if len(insts) == 0 {
		return nil, &Error{Message: "no CUE instance loaded from " + path}
	}
	if err := insts[0].Err; err != nil {
		return nil, convertCUEError(err)
	}
	v := ctx.BuildInstance(insts[0])
	if err := check(ctx, v); err != nil {
		return nil, err
	}

	var s Series
	if err := v.Decode(&s); err != nil {
		return nil, convertCUEError(err)
	}
	return &s, nil
}

// Validate checks s against the schema. Used for series embedded in other
// documents, which have no file positions of their own.
func (s *Series) Validate() error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	ctx := cuecontext.New()
	return check(ctx, ctx.CompileBytes(data, cue.Filename("series")))
}

// check unifies v with #Series and requires the result to be concrete.
func check(ctx *cue.Context, v cue.Value) error {
	if err := v.Err(); err != nil {
		return convertCUEError(err)
	}
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile embedded schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Series"))
	unified := def.Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return convertCUEError(err)
	}
	return nil
}

// convertCUEError turns each CUE error into a positioned *Error.
func convertCUEError(err error) error {
	list := cueerrors.Errors(err)
	if len(list) == 0 {
		return &Error{Message: err.Error()}
	}
	out := make([]error, 0, len(list))
	for _, e := range list {
		format, args := e.Msg()
		ce := &Error{
			Path:    fieldPath(e.Path()),
			Message: fmt.Sprintf(format, args...),
		}
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			// The last position is the input's; earlier ones point into the schema.
			ce.Pos = pos[len(pos)-1]
			for _, p := range pos {
				if p.Filename() != "schema.cue" {
					ce.Pos = p
					break
				}
			}
		}
		out = append(out, ce)
	}
	return errors.Join(out...)
}

// fieldPath drops definition selectors so paths name file fields.
func fieldPath(sel []string) string {
	parts := make([]string, 0, len(sel))
	for _, s := range sel {
		if !strings.HasPrefix(s, "#") {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ".")
}

// Params converts s to engine parameters, filling in defaults, and validates
// the result.
func (s *Series) Params() (engine.Params, error) {
	owner, err := account.Parse(s.Owner)
	if err != nil {
		return engine.Params{}, &Error{Path: "owner", Message: err.Error()}
	}
	issued, err := time.Parse(time.RFC3339, s.IssuedAt)
	if err != nil {
		return engine.Params{}, &Error{Path: "issued_at", Message: err.Error()}
	}
	p := engine.DefaultParams(owner, issued.UTC())

	if s.Name != "" {
		p.Name = s.Name
	}
	if s.Symbol != "" {
		p.Symbol = s.Symbol
	}
	if s.AssetSymbol != "" {
		p.AssetSymbol = s.AssetSymbol
	}
	if s.Custody != "" {
		if p.Custody, err = account.Parse(s.Custody); err != nil {
			return engine.Params{}, &Error{Path: "custody", Message: err.Error()}
		}
	}
	if s.Maturity != "" {
		if p.Maturity, err = time.ParseDuration(s.Maturity); err != nil {
			return engine.Params{}, &Error{Path: "maturity", Message: err.Error()}
		}
	}
	if s.SnapshotInterval != "" {
		if p.SnapshotInterval, err = time.ParseDuration(s.SnapshotInterval); err != nil {
			return engine.Params{}, &Error{Path: "snapshot_interval", Message: err.Error()}
		}
	}
	if s.Cap != "" {
		if p.Cap, err = fixed.Parse(s.Cap); err != nil {
			return engine.Params{}, &Error{Path: "cap", Message: err.Error()}
		}
	}
	if s.ReservePercent != nil {
		if *s.ReservePercent < 0 {
			return engine.Params{}, &Error{Path: "reserve_percent", Message: "must not be negative"}
		}
		p.ReservePercent = fixed.Amount(*s.ReservePercent)
	}
	if s.MintRatio < 0 || s.CouponDenominator < 0 {
		return engine.Params{}, &Error{Message: "mint_ratio and coupon_denominator must be positive"}
	}
	if s.MintRatio > 0 {
		p.MintRatio = fixed.Amount(s.MintRatio)
	}
	if s.CouponDenominator > 0 {
		p.CouponDenominator = fixed.Amount(s.CouponDenominator)
	}

	if err := p.Validate(); err != nil {
		return engine.Params{}, &Error{Message: err.Error()}
	}
	return p, nil
}

// FromParams is the inverse of Params. Every field is written out, so the
// result does not depend on the defaults of the reader.
func FromParams(p engine.Params) *Series {
	reserve := int(p.ReservePercent)
	return &Series{
		Name:              p.Name,
		Symbol:            p.Symbol,
		AssetSymbol:       p.AssetSymbol,
		Owner:             p.Owner.String(),
		Custody:           p.Custody.String(),
		IssuedAt:          p.IssuedAt.UTC().Format(time.RFC3339),
		Maturity:          p.Maturity.String(),
		SnapshotInterval:  p.SnapshotInterval.String(),
		Cap:               p.Cap.String(),
		ReservePercent:    &reserve,
		MintRatio:         int(p.MintRatio),
		CouponDenominator: int(p.CouponDenominator),
	}
}

// EncodeParams serializes p for storage next to a journal.
func EncodeParams(p engine.Params) ([]byte, error) {
	return json.Marshal(FromParams(p))
}

// DecodeParams reverses EncodeParams, validating on the way.
func DecodeParams(data []byte) (engine.Params, error) {
	s, err := Parse(data, "series_params")
	if err != nil {
		return engine.Params{}, err
	}
	return s.Params()
}
