// Package ws is the thin front door for the chat front-end: one
// websocket per player session, EXECUTE/CONFIRM in, RESULT out.
// Rendering and localization stay on the front-end side.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/kaironbot/economy/internal/economy/confirm"
	"github.com/kaironbot/economy/internal/economy/ops"
	"github.com/kaironbot/economy/internal/economy/txn"
	"github.com/kaironbot/economy/internal/protocol"
)

type Server struct {
	svc     *ops.Service
	digests map[string]string
	log     *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(svc *ops.Service, catalogDigests map[string]string, logger *log.Logger) *Server {
	return &Server{
		svc:     svc,
		digests: catalogDigests,
		log:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		playerID, guildID := s.handshake(conn)
		if playerID == "" {
			return
		}

		for {
			_ = conn.SetReadDeadline(time.Now().Add(5 * time.Minute))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				if writeJSON(conn, protoError("malformed message")) != nil {
					return
				}
				continue
			}
			if base.ProtocolVersion != protocol.Version {
				if writeJSON(conn, protoError("unsupported protocol_version")) != nil {
					return
				}
				continue
			}

			ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
			var res protocol.ResultMsg
			switch base.Type {
			case protocol.TypeExecute:
				var exec protocol.ExecuteMsg
				if err := json.Unmarshal(msg, &exec); err != nil {
					cancel()
					if writeJSON(conn, protoError("malformed EXECUTE")) != nil {
						return
					}
					continue
				}
				res = s.execute(ctx, playerID, guildID, exec)
				res.RequestID = exec.RequestID
			case protocol.TypeConfirm:
				var conf protocol.ConfirmMsg
				if err := json.Unmarshal(msg, &conf); err != nil {
					cancel()
					if writeJSON(conn, protoError("malformed CONFIRM")) != nil {
						return
					}
					continue
				}
				res = s.confirm(ctx, playerID, conf)
				res.RequestID = conf.RequestID
			default:
				cancel()
				if writeJSON(conn, protoError("unknown message type "+base.Type)) != nil {
					return
				}
				continue
			}
			cancel()

			res.Type = protocol.TypeResult
			if err := writeJSON(conn, res); err != nil {
				return
			}
		}
	}
}

func (s *Server) execute(ctx context.Context, playerID, guildID string, msg protocol.ExecuteMsg) protocol.ResultMsg {
	if msg.Op == ops.OpPay {
		amount, err := decimal.NewFromString(msg.Amount)
		if err != nil {
			return protocol.ResultMsg{Status: "ERROR", ErrorCode: protocol.ErrBadRequest, ErrorMsg: "bad amount"}
		}
		out, err := s.svc.Pay(ctx, guildID, playerID, amount, msg.Recipients)
		return s.result(out, err)
	}

	out, err := s.svc.Execute(ctx, msg.Op, ops.Request{
		GuildID:     guildID,
		RequesterID: playerID,
		TargetRef:   msg.TargetRef,
		Name:        msg.Name,
		Quantity:    msg.Quantity,
	})
	return s.result(out, err)
}

func (s *Server) confirm(ctx context.Context, playerID string, msg protocol.ConfirmMsg) protocol.ResultMsg {
	out, err := s.svc.Confirm(ctx, msg.TokenID, playerID)
	return s.result(out, err)
}

func (s *Server) result(out ops.Outcome, err error) protocol.ResultMsg {
	if err != nil {
		return errorResult(err)
	}
	res := protocol.ResultMsg{
		Status:    out.Status,
		EntryID:   out.Entry.ID,
		EntryName: out.Entry.Name,
		Quantity:  out.Quantity,
		Deferred:  out.Deferred,
		TaskID:    out.TaskID,
	}
	if out.Deferred {
		res.DueAt = out.DueAt.UTC().Format(time.RFC3339)
	}
	if out.Shortfall != nil {
		res.ErrorCode = out.Shortfall.Code
		res.ErrorMsg = out.Shortfall.Msg
		res.Deficit = out.Shortfall.Deficit
	}
	if out.Suggestion != nil {
		res.Suggestion = &protocol.SuggestionRef{
			TokenID:   out.Suggestion.TokenID,
			Name:      out.Suggestion.Name,
			ExpiresAt: out.Suggestion.ExpiresAt.UTC().Format(time.RFC3339),
		}
	}
	return res
}

// protoError rejects an unparseable or mis-versioned frame with a
// reason instead of dropping it.
func protoError(msg string) protocol.ResultMsg {
	return protocol.ResultMsg{
		Type:      protocol.TypeResult,
		Status:    "ERROR",
		ErrorCode: protocol.ErrProtoBadRequest,
		ErrorMsg:  msg,
	}
}

// errorResult keeps the structured cause: the code classifies, the
// message carries the store-level detail verbatim.
func errorResult(err error) protocol.ResultMsg {
	res := protocol.ResultMsg{Status: "ERROR", ErrorMsg: err.Error()}

	var noChar *txn.NoActiveCharacterError
	switch {
	case errors.As(err, &noChar):
		res.ErrorCode = protocol.ErrNoCharacter
		res.PlayerID = noChar.PlayerID
	case errors.Is(err, confirm.ErrExpired):
		res.ErrorCode = protocol.ErrTokenExpired
	case errors.Is(err, confirm.ErrForbidden):
		res.ErrorCode = protocol.ErrTokenForbidden
	case errors.Is(err, ops.ErrUnknownOperation), errors.Is(err, ops.ErrEmptyCatalog),
		errors.Is(err, ops.ErrNonPositiveAmount), errors.Is(err, ops.ErrNoRecipients):
		res.ErrorCode = protocol.ErrBadRequest
	default:
		res.ErrorCode = protocol.ErrCommitFailed
	}
	return res
}

func (s *Server) handshake(conn *websocket.Conn) (playerID, guildID string) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", ""
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return "", ""
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", ""
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return "", ""
	}
	if hello.PlayerID == "" || hello.GuildID == "" {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "missing player_id/guild_id"), time.Now().Add(time.Second))
		return "", ""
	}

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		PlayerID:        hello.PlayerID,
		GuildID:         hello.GuildID,
		CatalogDigests:  s.digests,
	}
	if err := writeJSON(conn, welcome); err != nil {
		return "", ""
	}
	return hello.PlayerID, hello.GuildID
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
