// Package secretconfig implements the Secret Config Store (C9): a thin
// façade over the versioned object layer for user-scoped settings whose
// sensitive fields must never be persisted, logged, or returned in
// plaintext. It reuses C4 wholesale -- a SecretConfig is just another
// recipe-validated, IdHash-identified entity -- and adds one thing C4
// doesn't have: a key-wrapping step between the plaintext a caller hands
// in and the ciphertext that actually gets hashed and stored.
package secretconfig

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"io"
	"time"

	"github.com/kittclouds/gokitt/internal/errs"
	"github.com/kittclouds/gokitt/internal/recipe"
	"github.com/kittclouds/gokitt/internal/store"
)

// RecipeSecretConfig is the registry name for the per-user settings object.
const RecipeSecretConfig = "SecretConfig"

// RegisterRecipe installs the SecretConfig schema. The API token is kept
// as two base64 strings (ciphertext, nonce) rather than a dedicated bytes
// type -- the recipe system only has to know these are opaque strings, it
// never inspects or hashes the plaintext they were derived from.
func RegisterRecipe(reg *recipe.Registry) error {
	return reg.Register(&recipe.Recipe{
		Name: RecipeSecretConfig,
		Rule: []recipe.FieldRule{
			{Name: "userEmail", Type: recipe.TypeString, IsID: true},
			{Name: "llmEndpoint", Type: recipe.TypeString, Optional: true},
			{Name: "apiTokenCiphertext", Type: recipe.TypeString, Optional: true},
			{Name: "apiTokenNonce", Type: recipe.TypeString, Optional: true},
			{Name: "updated", Type: recipe.TypeInt},
			{Name: "previousVersion", Type: recipe.TypeRef, Optional: true, RefType: RecipeSecretConfig},
		},
	})
}

// View is the read-facing shape: it carries hasSecret, never the secret.
type View struct {
	UserEmail   string
	LLMEndpoint string
	HasSecret   bool
	Updated     int64
}

// Store wraps the versioned layer with AES-GCM key wrapping. wrapKey may
// be nil (e.g. no platform keychain configured); operations that need it
// fail with SecretUnavailable rather than falling back to plaintext.
type Store struct {
	s       *store.Store
	reg     *recipe.Registry
	wrapKey []byte
}

func New(s *store.Store, reg *recipe.Registry, wrapKey []byte) *Store {
	return &Store{s: s, reg: reg, wrapKey: wrapKey}
}

// Get returns userEmail's settings view, or an empty default with
// HasSecret=false if nothing has ever been saved.
func (st *Store) Get(ctx context.Context, userEmail string) (View, error) {
	id, err := st.reg.IDHash(RecipeSecretConfig, recipe.Object{"userEmail": userEmail})
	if err != nil {
		return View{}, err
	}
	rec, err := st.s.GetCurrent(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return View{UserEmail: userEmail}, nil
		}
		return View{}, err
	}
	return viewOf(rec.Obj), nil
}

func viewOf(obj recipe.Object) View {
	v := View{}
	if s, ok := obj["userEmail"].(string); ok {
		v.UserEmail = s
	}
	if s, ok := obj["llmEndpoint"].(string); ok {
		v.LLMEndpoint = s
	}
	if s, ok := obj["apiTokenCiphertext"].(string); ok && s != "" {
		v.HasSecret = true
	}
	if n, ok := obj["updated"].(int64); ok {
		v.Updated = n
	}
	return v
}

// SetEndpoint updates the non-secret LLM endpoint field, preserving
// whatever secret is already on file.
func (st *Store) SetEndpoint(ctx context.Context, userEmail, endpoint string) (store.ContentHash, error) {
	obj, err := st.loadObjectOrDefault(ctx, userEmail)
	if err != nil {
		return store.ContentHash{}, err
	}
	obj["llmEndpoint"] = endpoint
	obj["updated"] = time.Now().UnixMilli()
	res, err := st.s.PutVersioned(ctx, RecipeSecretConfig, obj)
	if err != nil {
		return store.ContentHash{}, err
	}
	return res.VersionHash, nil
}

// Seal encrypts plaintext with the configured wrap key and stores only
// the ciphertext and nonce -- the plaintext itself is never hashed,
// logged, or retained by this call once it returns.
func (st *Store) Seal(ctx context.Context, userEmail, plaintext string) (store.ContentHash, error) {
	if len(st.wrapKey) == 0 {
		return store.ContentHash{}, errs.SecretUnavailable("apiToken")
	}
	ciphertext, nonce, err := seal(st.wrapKey, plaintext)
	if err != nil {
		return store.ContentHash{}, errs.ComputationError(err)
	}
	obj, err := st.loadObjectOrDefault(ctx, userEmail)
	if err != nil {
		return store.ContentHash{}, err
	}
	obj["apiTokenCiphertext"] = base64.StdEncoding.EncodeToString(ciphertext)
	obj["apiTokenNonce"] = base64.StdEncoding.EncodeToString(nonce)
	obj["updated"] = time.Now().UnixMilli()
	res, err := st.s.PutVersioned(ctx, RecipeSecretConfig, obj)
	if err != nil {
		return store.ContentHash{}, err
	}
	return res.VersionHash, nil
}

// Unseal decrypts and returns the plaintext API token for userEmail.
// field is accepted for forward compatibility with multiple named
// secrets but only "apiToken" is currently backed by storage.
func (st *Store) Unseal(ctx context.Context, userEmail, field string) (string, error) {
	if field != "apiToken" {
		return "", errs.SecretUnavailable(field)
	}
	if len(st.wrapKey) == 0 {
		return "", errs.SecretUnavailable(field)
	}
	view, err := st.Get(ctx, userEmail)
	if err != nil {
		return "", err
	}
	if !view.HasSecret {
		return "", errs.SecretUnavailable(field)
	}
	id, err := st.reg.IDHash(RecipeSecretConfig, recipe.Object{"userEmail": userEmail})
	if err != nil {
		return "", err
	}
	rec, err := st.s.GetCurrent(ctx, id)
	if err != nil {
		return "", err
	}
	ctStr, _ := rec.Obj["apiTokenCiphertext"].(string)
	nonceStr, _ := rec.Obj["apiTokenNonce"].(string)
	ciphertext, err := base64.StdEncoding.DecodeString(ctStr)
	if err != nil {
		return "", errs.InvalidEncoding("corrupt secret ciphertext")
	}
	nonce, err := base64.StdEncoding.DecodeString(nonceStr)
	if err != nil {
		return "", errs.InvalidEncoding("corrupt secret nonce")
	}
	plaintext, err := unseal(st.wrapKey, ciphertext, nonce)
	if err != nil {
		return "", errs.SecretUnavailable(field)
	}
	return plaintext, nil
}

func (st *Store) loadObjectOrDefault(ctx context.Context, userEmail string) (recipe.Object, error) {
	id, err := st.reg.IDHash(RecipeSecretConfig, recipe.Object{"userEmail": userEmail})
	if err != nil {
		return nil, err
	}
	rec, err := st.s.GetCurrent(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return recipe.Object{"userEmail": userEmail, "updated": time.Now().UnixMilli()}, nil
		}
		return nil, err
	}
	out := make(recipe.Object, len(rec.Obj))
	for k, v := range rec.Obj {
		if k == "previousVersion" {
			continue
		}
		out[k] = v
	}
	return out, nil
}

func isNotFound(err error) bool {
	e, ok := err.(*errs.E)
	return ok && e.Kind == errs.KindNotFound
}

func seal(key []byte, plaintext string) (ciphertext, nonce []byte, err error) {
	block, err := aes.NewCipher(normalizeKey(key))
	if err != nil {
		return nil, nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, err
	}
	ciphertext = gcm.Seal(nil, nonce, []byte(plaintext), nil)
	return ciphertext, nonce, nil
}

func unseal(key, ciphertext, nonce []byte) (string, error) {
	block, err := aes.NewCipher(normalizeKey(key))
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// normalizeKey derives a 32-byte AES-256 key from whatever length wrap
// key was configured, so callers can inject a passphrase-derived key of
// any length without hand-rolling padding at every call site.
func normalizeKey(key []byte) []byte {
	if len(key) == 32 {
		return key
	}
	out := make([]byte, 32)
	copy(out, key)
	return out
}
