package record

import (
	"encoding/base64"
	"fmt"

	"github.com/conduit-lang/strata/internal/orm/schema"
)

// Cipher encrypts and decrypts protected field values for a named provider.
// The key argument is the value of the field's key field, or nil when the
// field declares none.
type Cipher interface {
	Encrypt(provider string, key, plaintext []byte) ([]byte, error)
	Decrypt(provider string, key, ciphertext []byte) ([]byte, error)
	NewSalt(provider string) ([]byte, error)
}

// Seal returns a copy of r with every populated encrypted field replaced by its
// ciphertext. Fields are visited in resolution order, so key fields resolve
// before the fields they protect; a missing key field gets a fresh salt, which
// is also stored on r so later writes reuse it.
func Seal(r *Record, c Cipher) (*Record, error) {
	rs := r.Schema()
	keyOwners := keyFieldProviders(rs)
	sealed := r.Clone()

	for _, f := range rs.ResolutionOrder() {
		if provider, isKey := keyOwners[f.Name]; isKey && needsSalt(r, f, rs) {
			salt, err := c.NewSalt(provider)
			if err != nil {
				return nil, &ValueError{Model: r.Model(), Field: f.Name, Kind: f.Kind, Reason: "cannot generate salt", Err: err}
			}
			v := saltValue(f, salt)
			r.values[f.Name] = v
			sealed.values[f.Name] = v
		}

		if !f.Encrypt {
			continue
		}
		v, ok := sealed.values[f.Name]
		if !ok || v.IsNull() {
			continue
		}
		key, err := keyBytes(sealed, f)
		if err != nil {
			return nil, err
		}
		ct, err := c.Encrypt(f.Provider, key, plainBytes(v))
		if err != nil {
			return nil, &ValueError{Model: r.Model(), Field: f.Name, Kind: f.Kind, Reason: "encryption failed", Err: err}
		}
		if f.Kind == schema.KindBlob {
			sealed.values[f.Name] = Blob(ct)
		} else {
			sealed.values[f.Name] = String(base64.StdEncoding.EncodeToString(ct))
		}
	}
	return sealed, nil
}

// Unseal decrypts the populated encrypted fields of r in place
func Unseal(r *Record, c Cipher) error {
	for _, f := range r.Schema().ResolutionOrder() {
		if !f.Encrypt {
			continue
		}
		v, ok := r.values[f.Name]
		if !ok || v.IsNull() {
			continue
		}
		key, err := keyBytes(r, f)
		if err != nil {
			return err
		}
		ct := v.by
		if f.Kind != schema.KindBlob {
			ct, err = base64.StdEncoding.DecodeString(v.s)
			if err != nil {
				return &ValueError{Model: r.Model(), Field: f.Name, Kind: f.Kind, Reason: "ciphertext is not base64", Err: err}
			}
		}
		pt, err := c.Decrypt(f.Provider, key, ct)
		if err != nil {
			return &ValueError{Model: r.Model(), Field: f.Name, Kind: f.Kind, Reason: "decryption failed", Err: err}
		}
		if f.Kind == schema.KindBlob {
			r.values[f.Name] = Blob(pt)
		} else {
			r.values[f.Name] = String(string(pt))
		}
	}
	return nil
}

// KeyFields returns the key fields needed to decrypt the named fields
func KeyFields(rs *schema.ResolvedSchema, names []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, name := range names {
		f, ok := rs.Field(name)
		if !ok || !f.Encrypt || f.KeyField == "" || seen[f.KeyField] {
			continue
		}
		seen[f.KeyField] = true
		out = append(out, f.KeyField)
	}
	return out
}

func keyFieldProviders(rs *schema.ResolvedSchema) map[string]string {
	out := make(map[string]string)
	for _, f := range rs.DataFields() {
		if f.Encrypt && f.KeyField != "" {
			if _, ok := out[f.KeyField]; !ok {
				out[f.KeyField] = f.Provider
			}
		}
	}
	return out
}

// needsSalt reports whether key field k is empty while a field it protects is populated
func needsSalt(r *Record, k *schema.FieldDescriptor, rs *schema.ResolvedSchema) bool {
	if v, ok := r.values[k.Name]; ok && !v.IsNull() && len(plainBytes(v)) > 0 {
		return false
	}
	for _, f := range rs.DataFields() {
		if f.Encrypt && f.KeyField == k.Name {
			if v, ok := r.values[f.Name]; ok && !v.IsNull() {
				return true
			}
		}
	}
	return false
}

func saltValue(f *schema.FieldDescriptor, salt []byte) Value {
	if f.Kind == schema.KindBlob {
		return Blob(salt)
	}
	return String(base64.StdEncoding.EncodeToString(salt))
}

func keyBytes(r *Record, f *schema.FieldDescriptor) ([]byte, error) {
	if f.KeyField == "" {
		return nil, nil
	}
	kv, ok := r.values[f.KeyField]
	if !ok || kv.IsNull() {
		return nil, &ValueError{
			Model:  r.Model(),
			Field:  f.Name,
			Kind:   f.Kind,
			Reason: fmt.Sprintf("key field %s is not populated", f.KeyField),
		}
	}
	return plainBytes(kv), nil
}

func plainBytes(v Value) []byte {
	if v.Kind() == schema.KindBlob {
		return v.by
	}
	return []byte(v.s)
}
