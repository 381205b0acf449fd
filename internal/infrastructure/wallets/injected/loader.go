package injected

import (
	"bufio"
	"crypto/ecdsa"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"

	"wallet_playground/internal/app/port"
)

// KeySource points at the keys the injected wallet exposes.
type KeySource struct {
	KeystoreDir string
	Passphrase  string
	KeysFile    string
}

// LoadKeys reads the keys file first, then the keystore directory. Duplicate addresses are dropped.
func LoadKeys(src KeySource, log port.Logger) ([]*ecdsa.PrivateKey, error) {
	var keys []*ecdsa.PrivateKey
	if src.KeysFile != "" {
		fileKeys, err := LoadKeysFile(src.KeysFile, log)
		if err != nil {
			return nil, err
		}
		keys = append(keys, fileKeys...)
	}
	if src.KeystoreDir != "" {
		storeKeys, err := LoadKeystore(src.KeystoreDir, src.Passphrase, log)
		if err != nil {
			return nil, err
		}
		keys = append(keys, storeKeys...)
	}
	return dedupe(keys), nil
}

// LoadKeysFile reads hex private keys, one per line. Blank lines and # comments are skipped.
func LoadKeysFile(path string, log port.Logger) ([]*ecdsa.PrivateKey, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open keys file %s: %w", path, err)
	}
	defer file.Close()

	var keys []*ecdsa.PrivateKey
	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, err := crypto.HexToECDSA(strings.TrimPrefix(line, "0x"))
		if err != nil {
			// the key itself is never logged
			log.Warn("Skipping invalid private key", "file", path, "line_number", lineNum)
			continue
		}
		keys = append(keys, key)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error scanning keys file %s: %w", path, err)
	}

	log.Info("Private keys loaded successfully from file", "count", len(keys), "path", path)
	return keys, nil
}

// LoadKeystore decrypts every key file of a go-ethereum keystore directory.
func LoadKeystore(dir, passphrase string, log port.Logger) ([]*ecdsa.PrivateKey, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read keystore directory %s: %w", dir, err)
	}

	var keys []*ecdsa.PrivateKey
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read key file %s: %w", path, err)
		}
		key, err := keystore.DecryptKey(data, passphrase)
		if err != nil {
			log.Warn("Skipping keystore file that cannot be decrypted", "file", path, "error", err)
			continue
		}
		keys = append(keys, key.PrivateKey)
	}

	log.Info("Keystore loaded", "count", len(keys), "dir", dir)
	return keys, nil
}

func dedupe(keys []*ecdsa.PrivateKey) []*ecdsa.PrivateKey {
	seen := make(map[string]struct{}, len(keys))
	out := keys[:0]
	for _, k := range keys {
		addr := crypto.PubkeyToAddress(k.PublicKey).Hex()
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, k)
	}
	return out
}
