package raft

import (
	"bytes"

	"go.uber.org/zap"
)

// SnapshotPipeline is C7: it builds chunked snapshots from the state
// machine during compaction and reassembles + installs them on the apply
// side when a SnapshotEnd entry commits (§4.3). It holds a non-owning
// handle back to the owning Engine.
type SnapshotPipeline struct {
	e *Engine
}

func newSnapshotPipeline(e *Engine) *SnapshotPipeline {
	return &SnapshotPipeline{e: e}
}

// InstallFromBackwardScan implements the SnapshotEnd apply step (§4.3): a
// backward scan from index-1 collecting contiguous SnapshotChunk entries
// until a SnapshotStart is found or a non-snapshot entry terminates the
// scan. Returns whether a snapshot was actually installed (and hence
// lastApplied was advanced as part of applySnapshot rather than needing a
// separate advance by the caller).
func (p *SnapshotPipeline) InstallFromBackwardScan(end LogIndex) (bool, error) {
	log := p.e.ctx.Log()

	var reverseChunks []*Entry // collected end-to-start
	var start *Entry

scan:
	for i := end - 1; i >= log.FirstIndex(); i-- {
		entry, err := log.GetEntry(i)
		if err != nil {
			return false, err
		}
		if entry == nil {
			break
		}
		switch entry.Payload.(type) {
		case SnapshotChunkPayload:
			reverseChunks = append(reverseChunks, entry)
		case SnapshotStartPayload:
			start = entry
			break scan
		default:
			break scan
		}
		if i == 0 {
			break
		}
	}

	if start == nil {
		return false, nil
	}

	// reverseChunks was collected end-to-start; reverse it back into
	// write order before assembling.
	chunks := make([]*Entry, len(reverseChunks))
	for i, c := range reverseChunks {
		chunks[len(reverseChunks)-1-i] = c
	}
	endEntry, err := log.GetEntry(end)
	if err != nil {
		return false, err
	}
	entries := append([]*Entry{start}, chunks...)
	entries = append(entries, endEntry)

	return true, p.applySnapshot(end, entries)
}

// applySnapshot is the numbered procedure in §4.3. entries is
// [Start, Chunks..., End], matching the log span it replaces exactly so
// the RemoveBefore below drops precisely that span.
func (p *SnapshotPipeline) applySnapshot(lastIndex LogIndex, entries []*Entry) error {
	ctx := p.e.ctx

	var buf bytes.Buffer
	startPayload := entries[0].Payload.(SnapshotStartPayload)
	for _, e := range entries[1 : len(entries)-1] {
		if chunk, ok := e.Payload.(SnapshotChunkPayload); ok {
			buf.Write(chunk.Data)
		}
	}

	if err := p.e.sm.InstallSnapshot(&buf); err != nil {
		p.e.logger.Warnw("state machine snapshot install failed, swallowing per apply contract",
			p.e.logFields(zap.Error(err))...)
	}

	if err := ctx.Log().RemoveBefore(lastIndex - LogIndex(len(entries)) + 1); err != nil {
		ctx.setLastAppliedForInstall(lastIndex)
		return err
	}
	ctx.Cluster().SetMembers(startPayload.Members)
	if err := ctx.MaybeAdvanceTerm(startPayload.Term); err != nil {
		p.e.logger.Warnw("failed to persist advanced term after snapshot install",
			p.e.logFields(zap.Error(err))...)
	}

	// lastApplied advances regardless of failure above, so the log
	// never wedges on a bad snapshot (§4.3, §7).
	ctx.setLastAppliedForInstall(lastIndex)
	ctx.Events().Publish(Event{Kind: EventSnapshotInstalled, Index: lastIndex, Term: startPayload.Term})
	return nil
}

// MaybeCompact runs the compaction trigger described in §4.3: if the log
// has grown past maxLogBytes, stage a backup, splice in a freshly built
// snapshot covering the applied prefix, and commit — or restore on any
// failure. Compaction only ever replaces entries already applied, so it
// never discards anything the replica still needs to decide commit safety.
func (p *SnapshotPipeline) MaybeCompact() {
	log := p.e.ctx.Log()
	if log.SizeBytes() <= p.e.opts.maxLogBytes {
		return
	}

	if err := p.compact(); err != nil {
		p.e.logger.Warnw("compaction failed, restoring log from backup", p.e.logFields(zap.Error(err))...)
		if restoreErr := log.Restore(); restoreErr != nil {
			p.e.logger.Errorw("log restore after failed compaction also failed",
				p.e.logFields(zap.Error(restoreErr))...)
		}
	}
}

func (p *SnapshotPipeline) compact() error {
	ctx := p.e.ctx
	log := ctx.Log()

	if err := log.Backup(); err != nil {
		return err
	}

	entries, err := p.buildSnapshotEntries()
	if err != nil {
		return err
	}

	lastApplied := ctx.LastApplied()
	if int64(lastApplied)-int64(len(entries)) <= 0 {
		// Nothing to gain from compacting yet; release the backup.
		return log.Commit()
	}

	if err := log.RemoveBefore(lastApplied + 1); err != nil {
		return err
	}
	if err := log.PrependEntries(entries); err != nil {
		return err
	}
	return log.Commit()
}

// buildSnapshotEntries serializes the current state machine and splits it
// into SnapshotStart/Chunk.../End entries at the configured chunk size,
// each carrying the replica's current term, ending at lastApplied so the
// snapshot always covers exactly the prefix about to be discarded.
func (p *SnapshotPipeline) buildSnapshotEntries() ([]*Entry, error) {
	ctx := p.e.ctx

	var buf bytes.Buffer
	if err := p.e.sm.Snapshot(&buf); err != nil {
		return nil, err
	}

	term := ctx.CurrentTerm()
	members := ctx.Cluster().Members()
	chunkSize := p.e.opts.snapshotChunkBytes
	if chunkSize <= 0 {
		chunkSize = 4096
	}

	data := buf.Bytes()
	var chunkPayloads []SnapshotChunkPayload
	for off := 0; off < len(data); off += chunkSize {
		end := off + chunkSize
		if end > len(data) {
			end = len(data)
		}
		chunkPayloads = append(chunkPayloads, SnapshotChunkPayload{Data: append([]byte(nil), data[off:end]...)})
	}

	total := 2 + len(chunkPayloads) // Start + chunks + End
	lastApplied := ctx.LastApplied()
	startIndex := lastApplied - LogIndex(total) + 1

	entries := make([]*Entry, 0, total)
	entries = append(entries, &Entry{Index: startIndex, Term: term, Payload: SnapshotStartPayload{Term: term, Members: members}})
	for i, chunk := range chunkPayloads {
		entries = append(entries, &Entry{Index: startIndex + LogIndex(i+1), Term: term, Payload: chunk})
	}
	entries = append(entries, &Entry{Index: lastApplied, Term: term, Payload: SnapshotEndPayload{Length: uint64(len(data))}})
	return entries, nil
}
