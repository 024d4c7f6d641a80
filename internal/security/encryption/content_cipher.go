package encryption

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"chat-relay/internal/constants"

	"golang.org/x/crypto/hkdf"
)

// ContentCipher 訊息內容靜態加密
//
// 每組對話的密鑰由主密鑰經 HKDF-SHA256 派生，info 為排序後的用戶對，
// 因此雙方讀取同一則訊息時得到相同的密鑰，且不需要保存任何對話密鑰。
type ContentCipher struct {
	master []byte
}

// NewContentCipher 創建內容加密器
func NewContentCipher(master []byte) (*ContentCipher, error) {
	if len(master) != constants.MasterKeyLength {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", constants.MasterKeyLength, len(master))
	}
	return &ContentCipher{master: append([]byte(nil), master...)}, nil
}

// MasterKeyFromEnv 從 MASTER_KEY 讀取主密鑰（base64 或 hex）
func MasterKeyFromEnv() ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv("MASTER_KEY"))
	if raw == "" {
		return nil, fmt.Errorf("MASTER_KEY is not set")
	}
	if key, err := hex.DecodeString(raw); err == nil && len(key) == constants.MasterKeyLength {
		return key, nil
	}
	if key, err := base64.StdEncoding.DecodeString(raw); err == nil && len(key) == constants.MasterKeyLength {
		return key, nil
	}
	return nil, fmt.Errorf("MASTER_KEY must decode to %d bytes", constants.MasterKeyLength)
}

// Seal 加密訊息內容；空內容（墓碑、純附件）原樣保存
func (c *ContentCipher) Seal(content, userA, userB string) (string, error) {
	if content == "" {
		return "", nil
	}
	aesCTR, err := c.forPair(userA, userB)
	if err != nil {
		return "", err
	}
	return aesCTR.Encrypt(content)
}

// Open 解密訊息內容；未加密的舊資料直接返回
func (c *ContentCipher) Open(stored, userA, userB string) (string, error) {
	if !IsEncrypted(stored) {
		return stored, nil
	}
	aesCTR, err := c.forPair(userA, userB)
	if err != nil {
		return "", err
	}
	return aesCTR.Decrypt(stored)
}

func (c *ContentCipher) forPair(userA, userB string) (*AESCTR, error) {
	key, err := c.conversationKey(userA, userB)
	if err != nil {
		return nil, err
	}
	return NewAESCTR(key)
}

func (c *ContentCipher) conversationKey(userA, userB string) ([]byte, error) {
	if userA > userB {
		userA, userB = userB, userA
	}
	info := []byte("chat-relay/conversation/" + userA + "\x00" + userB)
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, c.master, nil, info), key); err != nil {
		return nil, fmt.Errorf("failed to derive conversation key: %w", err)
	}
	return key, nil
}
