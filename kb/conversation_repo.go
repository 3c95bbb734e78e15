//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

package kb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"trpc.group/trpc-go/trpc-rag-go/internal/errs"
)

const conversationColumns = `id, user_id, knowledge_base_id, title, created_at, updated_at`

const messageColumns = `id, conversation_id, role, content, tokens, model,
	confidence, retrieved_context, max_confidence_context, sources, created_at`

func scanConversation(row interface{ Scan(dest ...any) error }) (*Conversation, error) {
	var c Conversation
	err := row.Scan(&c.ID, &c.UserID, &c.KnowledgeBaseID, &c.Title,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func scanMessage(row interface{ Scan(dest ...any) error }) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content,
		&m.Tokens, &m.Model, &m.Confidence, &m.RetrievedContext,
		&m.MaxConfidenceContext, &m.Sources, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// CreateConversation inserts the conversation and fills id and timestamps.
func (s *Store) CreateConversation(ctx context.Context, c *Conversation) error {
	query := fmt.Sprintf(`INSERT INTO %s (user_id, knowledge_base_id, title)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at`, s.t.conversations)
	err := s.client.QueryRowContext(ctx, query,
		c.UserID, c.KnowledgeBaseID, c.Title,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return errs.Wrapf(errs.KindDependency, err, "create conversation")
	}
	return nil
}

// GetConversation returns the user's conversation or a NotFound error.
func (s *Store) GetConversation(ctx context.Context, userID, convID int64) (*Conversation, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1 AND user_id = $2`,
		conversationColumns, s.t.conversations)
	c, err := scanConversation(s.client.QueryRowContext(ctx, query, convID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.KindNotFound, "conversation %d not found", convID)
	}
	if err != nil {
		return nil, errs.Wrapf(errs.KindDependency, err, "get conversation %d", convID)
	}
	return c, nil
}

// ListConversations returns the user's conversations by most recent
// activity, paged.
func (s *Store) ListConversations(ctx context.Context, userID int64, limit, offset int) ([]*Conversation, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s
		WHERE user_id = $1
		ORDER BY updated_at DESC, id DESC
		LIMIT $2 OFFSET $3`, conversationColumns, s.t.conversations)
	var convs []*Conversation
	err := s.client.Query(ctx, func(rows *sql.Rows) error {
		for rows.Next() {
			c, err := scanConversation(rows)
			if err != nil {
				return err
			}
			convs = append(convs, c)
		}
		return nil
	}, query, userID, limit, offset)
	if err != nil {
		return nil, errs.Wrapf(errs.KindDependency, err, "list conversations")
	}
	return convs, nil
}

// UpdateConversationTitle sets the derived title.
func (s *Store) UpdateConversationTitle(ctx context.Context, convID int64, title string) error {
	query := fmt.Sprintf(`UPDATE %s SET title = $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2`, s.t.conversations)
	if _, err := s.client.ExecContext(ctx, query, title, convID); err != nil {
		return errs.Wrapf(errs.KindDependency, err, "update conversation %d title", convID)
	}
	return nil
}

// TouchConversation bumps updated_at after new messages.
func (s *Store) TouchConversation(ctx context.Context, convID int64) error {
	query := fmt.Sprintf(`UPDATE %s SET updated_at = CURRENT_TIMESTAMP
		WHERE id = $1`, s.t.conversations)
	if _, err := s.client.ExecContext(ctx, query, convID); err != nil {
		return errs.Wrapf(errs.KindDependency, err, "touch conversation %d", convID)
	}
	return nil
}

// DeleteConversation removes the conversation and its messages.
func (s *Store) DeleteConversation(ctx context.Context, userID, convID int64) error {
	err := s.client.Transaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, fmt.Sprintf(
			`DELETE FROM %s WHERE id = $1 AND user_id = $2`, s.t.conversations),
			convID, userID)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return errs.New(errs.KindNotFound, "conversation %d not found", convID)
		}
		_, err = tx.ExecContext(ctx, fmt.Sprintf(
			`DELETE FROM %s WHERE conversation_id = $1`, s.t.messages), convID)
		return err
	})
	if err != nil {
		if errs.Is(err, errs.KindNotFound) {
			return err
		}
		return errs.Wrapf(errs.KindDependency, err, "delete conversation %d", convID)
	}
	return nil
}

// EvictConversations deletes the user's oldest conversations beyond max,
// ordered by ascending updated_at, with their messages. Returns the
// evicted ids.
func (s *Store) EvictConversations(ctx context.Context, userID int64, max int) ([]int64, error) {
	var evicted []int64
	err := s.client.Transaction(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, fmt.Sprintf(
			`SELECT id FROM %s WHERE user_id = $1
			ORDER BY updated_at DESC, id DESC OFFSET $2`, s.t.conversations),
			userID, max)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return err
			}
			evicted = append(evicted, id)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		for _, id := range evicted {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(
				`DELETE FROM %s WHERE conversation_id = $1`, s.t.messages), id); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(
				`DELETE FROM %s WHERE id = $1`, s.t.conversations), id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, errs.Wrapf(errs.KindDependency, err, "evict conversations")
	}
	return evicted, nil
}

// CreateMessage inserts a message and fills id and created_at.
func (s *Store) CreateMessage(ctx context.Context, m *Message) error {
	query := fmt.Sprintf(`INSERT INTO %s
		(conversation_id, role, content, tokens, model, confidence,
		 retrieved_context, max_confidence_context, sources)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`, s.t.messages)
	err := s.client.QueryRowContext(ctx, query,
		m.ConversationID, m.Role, m.Content, m.Tokens, m.Model,
		m.Confidence, m.RetrievedContext, m.MaxConfidenceContext, m.Sources,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return errs.Wrapf(errs.KindDependency, err, "create message")
	}
	return nil
}

// ListMessages returns the conversation's messages in chronological order.
func (s *Store) ListMessages(ctx context.Context, convID int64) ([]*Message, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s
		WHERE conversation_id = $1
		ORDER BY created_at, id`, messageColumns, s.t.messages)
	return s.listMessages(ctx, query, convID)
}

// ListRecentMessages returns the last n messages in chronological order.
func (s *Store) ListRecentMessages(ctx context.Context, convID int64, n int) ([]*Message, error) {
	query := fmt.Sprintf(`SELECT %s FROM (
			SELECT %s FROM %s
			WHERE conversation_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) recent ORDER BY created_at, id`,
		messageColumns, messageColumns, s.t.messages)
	return s.listMessages(ctx, query, convID, n)
}

// CountMessages returns the number of messages in the conversation.
func (s *Store) CountMessages(ctx context.Context, convID int64) (int, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE conversation_id = $1`, s.t.messages)
	var n int
	if err := s.client.QueryRowContext(ctx, query, convID).Scan(&n); err != nil {
		return 0, errs.Wrapf(errs.KindDependency, err, "count messages")
	}
	return n, nil
}

func (s *Store) listMessages(ctx context.Context, query string, args ...any) ([]*Message, error) {
	var msgs []*Message
	err := s.client.Query(ctx, func(rows *sql.Rows) error {
		for rows.Next() {
			m, err := scanMessage(rows)
			if err != nil {
				return err
			}
			msgs = append(msgs, m)
		}
		return nil
	}, query, args...)
	if err != nil {
		return nil, errs.Wrapf(errs.KindDependency, err, "list messages")
	}
	return msgs, nil
}
