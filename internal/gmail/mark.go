package gmail

import (
	"context"
	"fmt"
)

// markChunkSize is the batchModify limit of 1000 IDs per call.
const markChunkSize = 1000

// MarkMessages applies a label to the given messages, chunked to stay under
// the batchModify request limit.
func (s *Scanner) MarkMessages(ctx context.Context, ids []string, labelID string) error {
	for i := 0; i < len(ids); i += markChunkSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		j := min(i+markChunkSize, len(ids))
		if err := s.Mailbox.BatchModify(ctx, ids[i:j], []string{labelID}); err != nil {
			return fmt.Errorf("mark messages %d-%d: %w", i, j, err)
		}
	}
	return nil
}
