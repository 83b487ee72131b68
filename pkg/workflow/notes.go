package workflow

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/mnajarc/sistemaInm-sub001/internal/util"
	"github.com/mnajarc/sistemaInm-sub001/pkg/domain"
	"github.com/mnajarc/sistemaInm-sub001/pkg/policy"
	"github.com/mnajarc/sistemaInm-sub001/pkg/store"
)

// AddNote appends a comment to a submission.
func (e *Engine) AddNote(ctx context.Context, actor domain.Actor, id, content string) (domain.Note, error) {
	content = strings.TrimSpace(content)
	var out domain.Note
	err := e.store.WithinTx(ctx, func(tx store.Tx) error {
		sub, subject, err := e.lock(tx, id)
		if err != nil {
			return err
		}
		if err := e.authorize(actor, policy.CapAddNote, subject); err != nil {
			return err
		}
		if content == "" {
			return fmt.Errorf("%w: note content is required", ErrValidation)
		}
		if utf8.RuneCountInString(content) > maxNoteContentRunes {
			return fmt.Errorf("%w: note exceeds %d characters", ErrValidation, maxNoteContentRunes)
		}
		out, err = tx.AppendNote(domain.Note{
			ID:           util.NewID(),
			SubmissionID: sub.ID,
			AuthorID:     actor.ID,
			Content:      content,
			NoteType:     domain.NoteComment,
			CreatedAt:    e.now(),
		})
		return err
	})
	if err != nil {
		return domain.Note{}, err
	}
	return out, nil
}

// DeleteNote removes the most recent note of a submission.
func (e *Engine) DeleteNote(ctx context.Context, actor domain.Actor, noteID string) error {
	return e.store.WithinTx(ctx, func(tx store.Tx) error {
		note, err := tx.GetNote(noteID)
		if err != nil {
			return translate(err, "note "+noteID)
		}
		_, subject, err := e.lock(tx, note.SubmissionID)
		if err != nil {
			return err
		}
		last, ok, err := tx.LastNote(note.SubmissionID)
		if err != nil {
			return err
		}
		isLast := ok && last.ID == note.ID
		if err := e.authorize(actor, policy.CapDeleteNote, subject.ForNote(note, isLast)); err != nil {
			return err
		}
		return tx.DeleteNote(note.ID)
	})
}

// ListNotes returns the notes of a submission in chronological order.
func (e *Engine) ListNotes(ctx context.Context, actor domain.Actor, id string) ([]domain.Note, error) {
	if _, err := e.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	notes, err := e.store.ListNotes(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	return notes, nil
}
