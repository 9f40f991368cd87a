package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/npezzotti/teetime-chat/internal/types"
	"github.com/teris-io/shortid"
)

const (
	selectChatRoomQuery = "SELECT cr.id, cr.round_id, r.title, cr.is_active, cr.created_at " +
		"FROM chat_rooms cr JOIN rounds r ON r.id = cr.round_id "

	checkRoomAccessQuery = `
		SELECT EXISTS (
			SELECT 1 FROM chat_rooms cr
			JOIN rounds r ON r.id = cr.round_id
			WHERE cr.id = $1 AND cr.is_active
			AND (
				r.creator_id = $2
				OR EXISTS (
					SELECT 1 FROM round_players rp
					WHERE rp.round_id = r.id AND rp.user_id = $2 AND rp.status = 'ACCEPTED'
				)
			)
		)`

	checkRoundAccessQuery = `
		SELECT r.creator_id = $2 OR EXISTS (
			SELECT 1 FROM round_players rp
			WHERE rp.round_id = r.id AND rp.user_id = $2 AND rp.status = 'ACCEPTED'
		)
		FROM rounds r WHERE r.id = $1`

	roomParticipantsQuery = `
		SELECT u.id, u.name, COALESCE(u.image, '') FROM chat_rooms cr
		JOIN rounds r ON r.id = cr.round_id
		JOIN users u ON u.id = r.creator_id
		WHERE cr.id = $1
		UNION
		SELECT u.id, u.name, COALESCE(u.image, '') FROM chat_rooms cr
		JOIN round_players rp ON rp.round_id = cr.round_id AND rp.status = 'ACCEPTED'
		JOIN users u ON u.id = rp.user_id
		WHERE cr.id = $1`

	notificationTypeChatMessage = "CHAT_MESSAGE"

	foreignKeyViolation = "23503"
)

func (db *PgChatRepository) GetUserById(ctx context.Context, userId string) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, name, COALESCE(email, ''), COALESCE(image, '') FROM users "+
			"WHERE id = $1 LIMIT 1",
		userId,
	)

	var u User
	err := row.Scan(
		&u.Id,
		&u.Name,
		&u.Email,
		&u.Image,
	)

	return u, err
}

func scanChatRoom(row *sql.Row) (ChatRoom, error) {
	var room ChatRoom
	err := row.Scan(
		&room.Id,
		&room.RoundId,
		&room.RoundTitle,
		&room.IsActive,
		&room.CreatedAt,
	)

	return room, err
}

func (db *PgChatRepository) GetChatRoom(ctx context.Context, roomId string) (ChatRoom, error) {
	return scanChatRoom(db.conn.QueryRowContext(ctx, selectChatRoomQuery+"WHERE cr.id = $1 LIMIT 1", roomId))
}

// EnsureChatRoom returns the chat room of a round, creating it on first access.
// Callers check round access first. An unknown round is sql.ErrNoRows.
func (db *PgChatRepository) EnsureChatRoom(ctx context.Context, roundId string) (ChatRoom, error) {
	room, err := scanChatRoom(db.conn.QueryRowContext(ctx, selectChatRoomQuery+"WHERE cr.round_id = $1 LIMIT 1", roundId))
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return ChatRoom{}, err
	}

	id, err := shortid.Generate()
	if err != nil {
		return ChatRoom{}, fmt.Errorf("generate room id: %w", err)
	}

	// a concurrent first access may have created the room already
	_, err = db.conn.ExecContext(ctx,
		"INSERT INTO chat_rooms (id, round_id, is_active, created_at) "+
			"VALUES ($1, $2, TRUE, $3) ON CONFLICT (round_id) DO NOTHING",
		id,
		roundId,
		time.Now().UTC(),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation {
			return ChatRoom{}, sql.ErrNoRows
		}
		return ChatRoom{}, fmt.Errorf("create chat room: %w", err)
	}

	return scanChatRoom(db.conn.QueryRowContext(ctx, selectChatRoomQuery+"WHERE cr.round_id = $1 LIMIT 1", roundId))
}

// CheckRoundAccess reports whether the user created or was accepted into the
// round. It returns sql.ErrNoRows for an unknown round.
func (db *PgChatRepository) CheckRoundAccess(ctx context.Context, userId, roundId string) (bool, error) {
	var ok bool
	err := db.conn.QueryRowContext(ctx, checkRoundAccessQuery, roundId, userId).Scan(&ok)
	if errors.Is(err, sql.ErrNoRows) {
		return false, err
	}
	if err != nil {
		return false, fmt.Errorf("check round access: %w", err)
	}

	return ok, nil
}

func (db *PgChatRepository) CheckRoomAccess(ctx context.Context, userId, roomId string) (bool, error) {
	var ok bool
	if err := db.conn.QueryRowContext(ctx, checkRoomAccessQuery, roomId, userId).Scan(&ok); err != nil {
		return false, fmt.Errorf("check room access: %w", err)
	}

	return ok, nil
}

func (db *PgChatRepository) GetRoomParticipants(ctx context.Context, roomId string) ([]User, error) {
	rows, err := db.conn.QueryContext(ctx, roomParticipantsQuery, roomId)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()

	var users = make([]User, 0)
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.Id, &u.Name, &u.Image); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}

		users = append(users, u)
	}

	return users, rows.Err()
}

func (db *PgChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	if params.MessageType == "" {
		params.MessageType = string(types.MessageTypeText)
	}
	if params.CreatedAt.IsZero() {
		params.CreatedAt = time.Now().UTC()
	}

	res := db.conn.QueryRowContext(ctx,
		"INSERT INTO chat_messages (id, chat_room_id, sender_id, content, message_type, is_read, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, FALSE, $6) "+
			"RETURNING id, chat_room_id, sender_id, content, message_type, is_read, created_at",
		uuid.New().String(),
		params.RoomId,
		params.SenderId,
		params.Content,
		params.MessageType,
		params.CreatedAt,
	)

	var msg Message
	err := res.Scan(
		&msg.Id,
		&msg.RoomId,
		&msg.SenderId,
		&msg.Content,
		&msg.MessageType,
		&msg.IsRead,
		&msg.CreatedAt,
	)

	return msg, err
}

// MarkMessageRead returns sql.ErrNoRows when the message does not belong to the room.
func (db *PgChatRepository) MarkMessageRead(ctx context.Context, roomId, messageId string) error {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE chat_messages SET is_read = TRUE WHERE id = $1 AND chat_room_id = $2",
		messageId,
		roomId,
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}

	return nil
}

// GetMessages returns up to limit messages before the cursor, newest first.
// Messages sharing a timestamp are ordered by id so no page boundary drops one.
func (db *PgChatRepository) GetMessages(ctx context.Context, roomId string, before MessageCursor, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = defaultMessageLimit
	}

	upper := sql.NullTime{Time: before.CreatedAt, Valid: !before.IsZero()}
	rows, err := db.conn.QueryContext(ctx,
		"SELECT m.id, m.chat_room_id, m.sender_id, u.name, COALESCE(u.image, ''), m.content, m.message_type, m.is_read, m.created_at "+
			"FROM chat_messages m JOIN users u ON u.id = m.sender_id "+
			"WHERE m.chat_room_id = $1 AND ($2::timestamptz IS NULL OR (m.created_at, m.id) < ($2::timestamptz, $3::text)) "+
			"ORDER BY m.created_at DESC, m.id DESC LIMIT $4",
		roomId,
		upper,
		before.Id,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages = make([]Message, 0, limit)
	for rows.Next() {
		var msg Message
		if err := rows.Scan(
			&msg.Id,
			&msg.RoomId,
			&msg.SenderId,
			&msg.SenderName,
			&msg.SenderImage,
			&msg.Content,
			&msg.MessageType,
			&msg.IsRead,
			&msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}

		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

func (db *PgChatRepository) NotifyOffline(ctx context.Context, n types.OfflineNotification) error {
	data, err := json.Marshal(notificationData{
		RoundId:   n.RoundId,
		RoomId:    n.RoomId,
		MessageId: n.MessageId,
		SenderId:  n.SenderId,
	})
	if err != nil {
		return fmt.Errorf("marshal notification data: %w", err)
	}

	_, err = db.conn.ExecContext(ctx,
		"INSERT INTO notifications (id, user_id, type, title, message, data, is_read, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)",
		uuid.New().String(),
		n.RecipientId,
		notificationTypeChatMessage,
		fmt.Sprintf("New message in %s", n.RoundTitle),
		fmt.Sprintf("%s: %s", n.SenderName, n.ContentPreview),
		string(data),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}

	return nil
}
