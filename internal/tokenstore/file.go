package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dropDatabas3/sessionkit/internal/domain/types"
	"github.com/dropDatabas3/sessionkit/internal/security/secretbox"
	"github.com/dropDatabas3/sessionkit/internal/util/atomicwrite"
)

// fileDoc es el layout persistido: solo las dos claves.
type fileDoc struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// fileStore persiste el par en un único archivo (0600), reemplazado atómicamente.
type fileStore struct {
	mu   sync.Mutex
	path string
	box  *secretbox.Box // nil = texto plano
}

// NewFile crea un store en path. Si encryptionKey no está vacía el documento
// se guarda cifrado con secretbox.
func NewFile(path, encryptionKey string) (Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("tokenstore: file driver requires a path")
	}
	s := &fileStore{path: filepath.Clean(path)}
	if strings.TrimSpace(encryptionKey) != "" {
		box, err := secretbox.New(encryptionKey)
		if err != nil {
			return nil, fmt.Errorf("tokenstore: %w", err)
		}
		s.box = box
	}
	return s, nil
}

func (s *fileStore) aad() []byte { return []byte(filepath.Base(s.path)) }

func (s *fileStore) Load(ctx context.Context) (types.TokenPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return types.TokenPair{}, ErrNotFound
	}
	if err != nil {
		return types.TokenPair{}, fmt.Errorf("tokenstore: read %s: %w", s.path, err)
	}
	if s.box != nil {
		if b, err = s.box.Open(string(b), s.aad()); err != nil {
			return types.TokenPair{}, fmt.Errorf("tokenstore: %w", err)
		}
	}
	var doc fileDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return types.TokenPair{}, fmt.Errorf("tokenstore: decode %s: %w", s.path, err)
	}
	return pairFrom(doc.AccessToken, doc.RefreshToken)
}

func (s *fileStore) Save(ctx context.Context, p types.TokenPair) error {
	if err := validate(p); err != nil {
		return err
	}
	b, err := json.Marshal(fileDoc{AccessToken: p.AccessToken, RefreshToken: p.RefreshToken})
	if err != nil {
		return err
	}
	if s.box != nil {
		sealed, err := s.box.Seal(b, s.aad())
		if err != nil {
			return fmt.Errorf("tokenstore: %w", err)
		}
		b = []byte(sealed)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := atomicwrite.AtomicWriteFile(s.path, b, 0o600); err != nil {
		return fmt.Errorf("tokenstore: write %s: %w", s.path, err)
	}
	return nil
}

func (s *fileStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := atomicwrite.Remove(s.path); err != nil {
		return fmt.Errorf("tokenstore: remove %s: %w", s.path, err)
	}
	return nil
}

func (s *fileStore) Close() error { return nil }
