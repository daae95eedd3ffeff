// Package envelope builds and opens the metadata documents that describe
// a registered asset. An envelope is pinned once to content-addressed
// storage and never edited; sensitive fields can be withheld as a digest
// or carried as per-field authenticated ciphertext.
package envelope

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/sha3"
)

type Mode string

const (
	ModeNone      Mode = "none"
	ModeHashOnly  Mode = "hash-only"
	ModeEncrypted Mode = "encrypted"
)

const (
	// Placeholder replaces the plaintext of an encrypted field in the
	// persisted document.
	Placeholder = "[ENCRYPTED]"

	Algorithm = "aes-256-gcm"
)

var (
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrUnknownField     = errors.New("unknown envelope field")
)

type FileRef struct {
	Name     string `json:"name"`
	URI      string `json:"uri"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
}

type Attribute struct {
	TraitType string `json:"trait_type"`
	Value     string `json:"value"`
}

// Payload is an opaque ciphertext+nonce pair for one encrypted field.
type Payload struct {
	Ciphertext string `json:"ciphertext"`
	Nonce      string `json:"nonce"`
}

type Security struct {
	Mode      Mode               `json:"mode"`
	Fields    []string           `json:"fields,omitempty"`
	Algorithm string             `json:"algorithm,omitempty"`
	Digest    string             `json:"digest,omitempty"`
	Payloads  map[string]Payload `json:"payloads,omitempty"`
}

type Envelope struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Image       string      `json:"image,omitempty"`
	Files       []FileRef   `json:"files"`
	Attributes  []Attribute `json:"attributes"`
	CreatedBy   string      `json:"createdBy"`
	CreatedAt   int64       `json:"createdAt"`
	Security    Security    `json:"security"`
}

// Fields is the caller-facing view of an envelope's describable content.
// Sensitive-field names address Name, Description, or an attribute value
// by its trait name.
type Fields struct {
	Name        string
	Description string
	Attributes  []Attribute
}

// SecurityMode selects how the named sensitive fields are handled at
// build time.
type SecurityMode struct {
	Mode   Mode
	Fields []string
}

// Build assembles an envelope from the given fields and attachments.
// For ModeEncrypted a fresh key is generated and returned; storing or
// sharing it is entirely the caller's concern and it never appears in
// the envelope itself.
func Build(f Fields, files []FileRef, image, createdBy string, sec SecurityMode) (*Envelope, *Key, error) {
	env := &Envelope{
		Name:        f.Name,
		Description: f.Description,
		Image:       image,
		Files:       files,
		Attributes:  append([]Attribute(nil), f.Attributes...),
		CreatedBy:   createdBy,
		CreatedAt:   time.Now().Unix(),
	}
	if env.Files == nil {
		env.Files = []FileRef{}
	}
	if env.Attributes == nil {
		env.Attributes = []Attribute{}
	}

	switch sec.Mode {
	case ModeNone, "":
		env.Security = Security{Mode: ModeNone}
		return env, nil, nil

	case ModeHashOnly:
		fields := uniqueFields(sec.Fields)
		digest, err := digestFields(env, fields)
		if err != nil {
			return nil, nil, err
		}
		for _, name := range fields {
			setField(env, name, "")
		}
		env.Security = Security{
			Mode:   ModeHashOnly,
			Fields: fields,
			Digest: digest,
		}
		return env, nil, nil

	case ModeEncrypted:
		key, err := NewKey()
		if err != nil {
			return nil, nil, err
		}
		// A repeated field name would read back the placeholder on its
		// second pass and seal that instead of the real value.
		fields := uniqueFields(sec.Fields)
		payloads := make(map[string]Payload, len(fields))
		for _, name := range fields {
			value, ok := fieldValue(env, name)
			if !ok {
				return nil, nil, fmt.Errorf("%w: %s", ErrUnknownField, name)
			}
			payload, err := seal(key, []byte(value))
			if err != nil {
				return nil, nil, err
			}
			payloads[name] = payload
			setField(env, name, Placeholder)
		}
		env.Security = Security{
			Mode:      ModeEncrypted,
			Fields:    fields,
			Algorithm: Algorithm,
			Payloads:  payloads,
		}
		return env, key, nil
	}

	return nil, nil, fmt.Errorf("unknown security mode %q", sec.Mode)
}

// Opened is the result of resolving an envelope's fields. Fields that
// could not be decrypted stay locked and are reported individually; the
// rest of the document remains readable.
type Opened struct {
	Fields Fields
	Locked map[string]error
}

// Open resolves the envelope's fields, decrypting the flagged ones with
// the given key. A nil key, or a key that fails authentication for a
// field, locks that field only.
func Open(env *Envelope, key *Key) (*Opened, error) {
	if env == nil {
		return nil, errors.New("nil envelope")
	}

	out := &Opened{
		Fields: Fields{
			Name:        env.Name,
			Description: env.Description,
			Attributes:  append([]Attribute(nil), env.Attributes...),
		},
		Locked: map[string]error{},
	}

	if env.Security.Mode != ModeEncrypted {
		return out, nil
	}

	for _, name := range env.Security.Fields {
		payload, ok := env.Security.Payloads[name]
		if !ok {
			out.Locked[name] = fmt.Errorf("%w: missing payload", ErrDecryptionFailed)
			continue
		}
		if key == nil {
			out.Locked[name] = fmt.Errorf("%w: no key provided", ErrDecryptionFailed)
			continue
		}
		plaintext, err := open(key, payload)
		if err != nil {
			out.Locked[name] = fmt.Errorf("field %s: %w", name, ErrDecryptionFailed)
			continue
		}
		setFields(&out.Fields, name, string(plaintext))
	}

	return out, nil
}

// uniqueFields drops repeated names, keeping first-occurrence order.
func uniqueFields(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

func digestFields(env *Envelope, names []string) (string, error) {
	h := sha3.New256()
	for _, name := range names {
		value, ok := fieldValue(env, name)
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrUnknownField, name)
		}
		h.Write([]byte(value))
	}
	return "0x" + hex.EncodeToString(h.Sum(nil)), nil
}

func fieldValue(env *Envelope, name string) (string, bool) {
	switch name {
	case "name":
		return env.Name, true
	case "description":
		return env.Description, true
	}
	for _, att := range env.Attributes {
		if att.TraitType == name {
			return att.Value, true
		}
	}
	return "", false
}

func setField(env *Envelope, name, value string) {
	switch name {
	case "name":
		env.Name = value
		return
	case "description":
		env.Description = value
		return
	}
	for i := range env.Attributes {
		if env.Attributes[i].TraitType == name {
			env.Attributes[i].Value = value
			return
		}
	}
}

func setFields(f *Fields, name, value string) {
	switch name {
	case "name":
		f.Name = value
		return
	case "description":
		f.Description = value
		return
	}
	for i := range f.Attributes {
		if f.Attributes[i].TraitType == name {
			f.Attributes[i].Value = value
			return
		}
	}
}
