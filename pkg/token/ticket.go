// Package token 提供了 WebSocket 连接票据的签发与验证。
// 票据不是登录凭证：它只携带会话标识，用于把一次短暂的
// WebSocket 握手关联到已创建的分析会话。
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TicketManager 负责管理连接票据的生成和验证。
type TicketManager struct {
	secretKey []byte        // secretKey 用于签名和验证票据的密钥
	ticketDur time.Duration // ticketDur 定义了票据的有效期
}

// TicketClaims 定义了票据中携带的会话信息。
type TicketClaims struct {
	SessionID string `json:"sessionId"`
	jwt.RegisteredClaims
}

// NewTicketManager 创建一个新的 TicketManager 实例。
func NewTicketManager(secret string, expireMinutes int) *TicketManager {
	return &TicketManager{
		secretKey: []byte(secret),
		ticketDur: time.Duration(expireMinutes) * time.Minute,
	}
}

// GenerateTicket 为指定会话签发一张短期票据。
func (m *TicketManager) GenerateTicket(sessionID string) (string, error) {
	claims := TicketClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.ticketDur)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}
	ticket := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return ticket.SignedString(m.secretKey)
}

// VerifyTicket 验证票据并返回其携带的会话标识。
func (m *TicketManager) VerifyTicket(ticketString string) (*TicketClaims, error) {
	ticket, err := jwt.ParseWithClaims(ticketString, &TicketClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secretKey, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := ticket.Claims.(*TicketClaims); ok && ticket.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid ticket")
}
