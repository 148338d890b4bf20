package signatures

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// packFile is the on-disk layout of a signature pack.
type packFile struct {
	Signatures []struct {
		ID             string `yaml:"id"`
		Category       string `yaml:"category"`
		Severity       string `yaml:"severity"`
		Pattern        string `yaml:"pattern"`
		BinaryHex      string `yaml:"binary_hex"`
		Description    string `yaml:"description"`
		Countermeasure string `yaml:"countermeasure"`
	} `yaml:"signatures"`
	KnownBadHashes []string `yaml:"known_bad_hashes"`
}

// Pack is an operator-supplied extension to the built-in tables.
type Pack struct {
	Signatures     []*Signature
	KnownBadHashes []string
}

// LoadPack reads a YAML signature pack from path.
func LoadPack(path string) (*Pack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signature pack: %w", err)
	}
	return ParsePack(data)
}

// ParsePack decodes and validates a YAML signature pack.
func ParsePack(data []byte) (*Pack, error) {
	var raw packFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode signature pack: %w", err)
	}

	p := &Pack{}
	for i, s := range raw.Signatures {
		id := strings.TrimSpace(s.ID)
		if id == "" {
			return nil, fmt.Errorf("signature #%d: id is required", i)
		}
		cat, err := ParseCategory(s.Category)
		if err != nil {
			return nil, fmt.Errorf("signature %s: %w", id, err)
		}
		sev, err := ParseSeverity(s.Severity)
		if err != nil {
			return nil, fmt.Errorf("signature %s: %w", id, err)
		}
		if sev == SeverityNone {
			return nil, fmt.Errorf("signature %s: severity is required", id)
		}

		var m Matcher
		switch {
		case s.Pattern != "" && s.BinaryHex != "":
			return nil, fmt.Errorf("signature %s: pattern and binary_hex are exclusive", id)
		case s.Pattern != "":
			m, err = Pattern(s.Pattern)
			if err != nil {
				return nil, fmt.Errorf("signature %s: %w", id, err)
			}
		case s.BinaryHex != "":
			b, err := hex.DecodeString(strings.ReplaceAll(s.BinaryHex, " ", ""))
			if err != nil {
				return nil, fmt.Errorf("signature %s: decode binary_hex: %w", id, err)
			}
			m = Binary(b)
		default:
			return nil, fmt.Errorf("signature %s: pattern or binary_hex is required", id)
		}

		p.Signatures = append(p.Signatures, &Signature{
			ID:             id,
			Category:       cat,
			Matcher:        m,
			Severity:       sev,
			Description:    s.Description,
			Countermeasure: s.Countermeasure,
		})
	}

	for _, h := range raw.KnownBadHashes {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			p.KnownBadHashes = append(p.KnownBadHashes, h)
		}
	}
	return p, nil
}

// Apply registers the pack's signatures with c.
func (p *Pack) Apply(c *Catalog) error {
	for _, s := range p.Signatures {
		if err := c.Add(s); err != nil {
			return err
		}
	}
	return nil
}

// Check reports whether the pack can be merged into c. It fails with
// ErrBuiltinSignature when the pack reuses a built-in id.
func (p *Pack) Check(c *Catalog) error {
	for _, s := range p.Signatures {
		if c.Builtin(s.ID) {
			return fmt.Errorf("%w: %s", ErrBuiltinSignature, s.ID)
		}
	}
	return nil
}

// Merge registers the pack's signatures with c, replacing earlier versions
// of the same ids. Nothing is merged when Check fails.
func (p *Pack) Merge(c *Catalog) error {
	if err := p.Check(c); err != nil {
		return err
	}
	for _, s := range p.Signatures {
		if err := c.Put(s); err != nil {
			return err
		}
	}
	return nil
}
