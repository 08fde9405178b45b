package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"StemMixer/logger"
)

// WebSocketHandler 升级连接，先推送一次当前快照，再接收控制命令
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", logger.ErrorField(err))
		return
	}

	client := s.hub.NewClient(conn)
	s.hub.Register(client)
	client.SendMessage(MsgTypeSnapshot, s.transport.Snapshot())

	go client.WritePump()
	// 连接生命周期独立于升级请求
	go client.ReadPump(context.Background(), s.handleMessage)
}

// handleMessage 处理客户端发来的控制命令。成功的命令不单独回复，
// 状态变化会通过快照广播到达所有客户端。
func (s *Server) handleMessage(ctx context.Context, c *Client, msg *WSMessage) {
	var err error
	switch msg.Type {
	case MsgTypePlay:
		err = s.transport.Play()
	case MsgTypePause:
		err = s.transport.Pause()
	case MsgTypeStop:
		err = s.transport.Stop()
	case MsgTypeSeek:
		var d SeekData
		if err = decodeData(msg, &d); err == nil {
			if !finite(d.Position) {
				err = errors.New("position must be a finite number")
			} else {
				err = s.transport.Seek(d.Position)
			}
		}
	case MsgTypeTrack:
		var d TrackData
		if err = decodeData(msg, &d); err == nil {
			err = applyTrack(s.transport, d)
		}
	case MsgTypeMaster:
		var d MasterData
		if err = decodeData(msg, &d); err == nil {
			if d.Volume != nil && !finite(*d.Volume) {
				err = errors.New("volume must be a finite number")
			} else {
				applyMaster(s.transport, d)
			}
		}
	case MsgTypeSnapshot:
		c.SendMessage(MsgTypeSnapshot, s.transport.Snapshot())
	default:
		err = fmt.Errorf("unknown message type %q", msg.Type)
	}

	if err != nil {
		logger.Debug("websocket command failed",
			logger.String("client", c.ID),
			logger.String("type", string(msg.Type)),
			logger.ErrorField(err))
		c.SendError(err)
	}
}

func decodeData(msg *WSMessage, v interface{}) error {
	if len(msg.Data) == 0 {
		return fmt.Errorf("%s message has no data", msg.Type)
	}
	if err := json.Unmarshal(msg.Data, v); err != nil {
		return fmt.Errorf("invalid %s data: %w", msg.Type, err)
	}
	return nil
}
