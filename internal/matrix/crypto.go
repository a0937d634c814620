// ABOUTME: End-to-end encryption for the Matrix frontend via mautrix cryptohelper
// ABOUTME: Keeps one SQLite crypto store per bot account and resets it when the device changes

package matrix

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/crypto/cryptohelper"
)

// cryptoSession owns the crypto helper attached to the client.
type cryptoSession struct {
	helper *cryptohelper.CryptoHelper
	logger *slog.Logger
}

// setupCrypto enables E2EE on client. The client must be logged in so its
// device ID is known. A recovery key, when given, enables cross-signing;
// failing to verify with it is logged and encryption stays on.
func setupCrypto(ctx context.Context, client *mautrix.Client, recoveryKey, dir string, logger *slog.Logger) (*cryptoSession, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating crypto directory: %w", err)
	}

	userID := client.UserID.String()
	dbPath := filepath.Join(dir, fmt.Sprintf("taskbot-crypto-%s.db", accountSlug(userID)))
	logger.Info("setting up matrix encryption", "db", dbPath)

	if err := resetOnDeviceChange(dbPath, client.DeviceID.String(), logger); err != nil {
		return nil, err
	}

	helper, err := cryptohelper.NewCryptoHelper(client, storeKey(userID), dbPath)
	if err != nil {
		return nil, fmt.Errorf("creating crypto helper: %w", err)
	}
	if err := helper.Init(ctx); err != nil {
		return nil, fmt.Errorf("initializing crypto helper: %w", err)
	}
	client.Crypto = helper

	cs := &cryptoSession{helper: helper, logger: logger}
	if recoveryKey == "" {
		logger.Info("matrix encryption enabled without cross-signing")
		return cs, nil
	}

	machine := helper.Machine()
	if machine == nil {
		logger.Warn("crypto machine not initialized, skipping recovery key")
		return cs, nil
	}
	if err := machine.VerifyWithRecoveryKey(ctx, recoveryKey); err != nil {
		logger.Warn("recovery key verification failed", "error", err)
	} else {
		logger.Info("device verified with recovery key")
	}
	return cs, nil
}

func (cs *cryptoSession) Close() error {
	if cs == nil || cs.helper == nil {
		return nil
	}
	return cs.helper.Close()
}

// accountSlug turns "@taskbot:example.org" into "taskbot_example.org".
func accountSlug(userID string) string {
	out := make([]byte, 0, len(userID))
	for i := 0; i < len(userID); i++ {
		c := userID[i]
		switch {
		case i == 0 && c == '@':
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.', c == '-', c == '_':
			out = append(out, c)
		case c == ':':
			out = append(out, '_')
		}
	}
	return string(out)
}

// storeKey derives the pickle key of the crypto store from the account.
func storeKey(userID string) []byte {
	h := sha256.Sum256([]byte("taskbot-matrix-crypto:" + userID))
	return h[:]
}

// resetOnDeviceChange deletes the crypto store when it belongs to another
// device, which happens after a fresh password login.
func resetOnDeviceChange(dbPath, deviceID string, logger *slog.Logger) error {
	stored, err := storedDeviceID(dbPath)
	if err != nil {
		logger.Debug("could not read stored device id", "error", err)
		return nil
	}
	if stored == "" || stored == deviceID {
		return nil
	}

	logger.Warn("matrix device changed, resetting crypto store", "stored_device", stored, "device", deviceID)
	if err := os.Remove(dbPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing crypto store: %w", err)
	}
	_ = os.Remove(dbPath + "-wal")
	_ = os.Remove(dbPath + "-shm")
	return nil
}

// storedDeviceID returns the device of the crypto account, or "" when the
// store does not exist or holds no account yet.
func storedDeviceID(dbPath string) (string, error) {
	if _, err := os.Stat(dbPath); errors.Is(err, os.ErrNotExist) {
		return "", nil
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return "", err
	}
	defer db.Close()

	var deviceID string
	err = db.QueryRow("SELECT device_id FROM crypto_account LIMIT 1").Scan(&deviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return deviceID, nil
}
