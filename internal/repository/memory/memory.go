// Package memory — хранилище в памяти для dev-режима и тестов.
// Реализует те же контракты, что postgres и mongo; атомарность условных
// операций обеспечивается мьютексом (в памяти это честный эквивалент
// conditional update на стороне БД).
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xela07ax/clearing-house/internal/audit"
	"github.com/xela07ax/clearing-house/internal/domain"
)

type Store struct {
	mu        sync.Mutex
	seq       int64
	seqInit   bool
	processes map[string]domain.Process
	masterKey *domain.MasterKey
	docTypes  map[string]domain.DocumentType
	buckets   map[string][]*domain.Bucket // pid -> бакеты по возрастанию from_ts
	journal   []audit.AccessEvent
}

func NewStore() *Store {
	return &Store{
		processes: make(map[string]domain.Process),
		docTypes:  make(map[string]domain.DocumentType),
		buckets:   make(map[string][]*domain.Bucket),
	}
}

// --- SequenceRepository ---

func (s *Store) Next(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.seqInit {
		s.seqInit = true
		s.seq = 0
		return 0, nil
	}
	s.seq++
	return s.seq, nil
}

// --- ProcessRepository ---

func (s *Store) Insert(ctx context.Context, p domain.Process) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.processes[p.ID]; ok {
		return domain.E(domain.KindConflict, "memory.process.insert", "process already exists")
	}
	s.processes[p.ID] = p
	return nil
}

func (s *Store) Get(ctx context.Context, pid string) (*domain.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.processes[pid]
	if !ok {
		return nil, nil
	}
	cp := p
	return &cp, nil
}

func (s *Store) Delete(ctx context.Context, pid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.processes, pid)
	return nil
}

// --- MasterKeyRepository ---

func (s *Store) InsertMasterKey(ctx context.Context, key domain.MasterKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.masterKey != nil {
		return false, nil
	}
	cp := key
	s.masterKey = &cp
	return true, nil
}

func (s *Store) GetMasterKey(ctx context.Context) (*domain.MasterKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.masterKey == nil {
		return nil, nil
	}
	cp := *s.masterKey
	return &cp, nil
}

func (s *Store) CountMasterKeys(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.masterKey == nil {
		return 0, nil
	}
	return 1, nil
}

// --- DocumentTypeRepository ---

func (s *Store) UpsertDocumentType(ctx context.Context, dt domain.DocumentType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docTypes[dt.ID] = dt
	return nil
}

func (s *Store) GetDocumentType(ctx context.Context, id string) (*domain.DocumentType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dt, ok := s.docTypes[id]
	if !ok {
		return nil, nil
	}
	cp := dt
	return &cp, nil
}

// --- BucketRepository ---

func (s *Store) AppendDocument(ctx context.Context, doc domain.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.buckets[doc.PID]
	// Первый незаполненный бакет по возрастанию from_ts — как и в
	// postgres/mongo, дыры после компенсаций дозаполняются раньше хвоста.
	for _, b := range list {
		if b.Fill < b.Capacity {
			b.Documents = append(b.Documents, doc)
			b.Fill++
			if doc.TS.After(b.ToTS) {
				b.ToTS = doc.TS
			}
			return nil
		}
	}

	b := &domain.Bucket{
		ID:        domain.BucketID(doc.PID, doc.TS),
		PID:       doc.PID,
		Fill:      1,
		Capacity:  domain.MaxBucketSize,
		FromTS:    doc.TS,
		ToTS:      doc.TS,
		Documents: []domain.Document{doc},
	}
	s.buckets[doc.PID] = append(list, b)
	return nil
}

func (s *Store) GetByTC(ctx context.Context, tc int64) (*domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, list := range s.buckets {
		for _, b := range list {
			for i := range b.Documents {
				if b.Documents[i].TC == tc {
					cp := b.Documents[i]
					return &cp, nil
				}
			}
		}
	}
	return nil, nil
}

func (s *Store) GetDocument(ctx context.Context, pid, docID string) (*domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.buckets[pid] {
		for i := range b.Documents {
			if b.Documents[i].ID == docID {
				cp := b.Documents[i]
				return &cp, nil
			}
		}
	}
	return nil, nil
}

func (s *Store) RemoveDocument(ctx context.Context, pid, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.buckets[pid] {
		for i := range b.Documents {
			if b.Documents[i].ID == docID {
				b.Documents = append(b.Documents[:i], b.Documents[i+1:]...)
				b.Fill--
				return nil
			}
		}
	}
	return nil
}

func (s *Store) FirstBucket(ctx context.Context, pid string, order domain.SortOrder, from, to time.Time) (*domain.Bucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	matched := s.intersecting(pid, from, to, order)
	if len(matched) == 0 {
		return nil, nil
	}
	cp := *matched[0]
	return &cp, nil
}

func (s *Store) Buckets(ctx context.Context, pid string, order domain.SortOrder, from, to time.Time, skip, limit int) ([]domain.Bucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	matched := s.intersecting(pid, from, to, order)
	if skip >= len(matched) {
		return nil, nil
	}
	matched = matched[skip:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]domain.Bucket, 0, len(matched))
	for _, b := range matched {
		out = append(out, *b)
	}
	return out, nil
}

func (s *Store) DocumentsByTC(ctx context.Context, fromTC int64, limit int) ([]domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Document
	for _, list := range s.buckets {
		for _, b := range list {
			for _, d := range b.Documents {
				if d.TC >= fromTC {
					out = append(out, d)
				}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TC < out[j].TC })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) DeleteProcessData(ctx context.Context, pid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets, pid)
	return nil
}

// intersecting возвращает бакеты процесса, пересекающие [from, to],
// в нужном порядке. Вызывать под мьютексом.
func (s *Store) intersecting(pid string, from, to time.Time, order domain.SortOrder) []*domain.Bucket {
	var matched []*domain.Bucket
	for _, b := range s.buckets[pid] {
		if b.FromTS.After(to) || b.ToTS.Before(from) {
			continue
		}
		matched = append(matched, b)
	}
	if order == domain.SortDesc {
		for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
			matched[i], matched[j] = matched[j], matched[i]
		}
	}
	return matched
}

// --- audit.StorageInterface ---

func (s *Store) WriteBatch(ctx context.Context, events []audit.AccessEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.journal = append(s.journal, events...)
	return nil
}

// JournalEvents — снимок журнала доступа (для тестов и dev-инспекции).
func (s *Store) JournalEvents() []audit.AccessEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.AccessEvent(nil), s.journal...)
}
