package repository

import (
	"sort"

	"github.com/xela07ax/clearing-house/internal/domain"
)

// Математика постраничной выборки по бакетам.
// Идея: бакеты упорядочены по времени и ограничены по вместимости, поэтому
// вместо скана всей истории достаточно пропустить целое число бакетов и
// прочитать не более двух (окно страницы пересекает максимум одну границу).
// Первый бакет в порядке сортировки может быть лишь частично внутри
// диапазона дат — offset сдвигает логическое начало "страницы 1".

// PageWindow считает, сколько бакетов пропустить (skipBuckets) и сколько
// записей пропустить в отфильтрованном окне (startEntry).
// capacity — заявленная вместимость первого релевантного бакета,
// matchCount — сколько его записей реально попадает в диапазон дат.
func PageWindow(page, size, capacity, matchCount int) (skipBuckets, startEntry int) {
	offset := (capacity - matchCount) % domain.MaxBucketSize
	if offset < 0 {
		offset += domain.MaxBucketSize
	}

	pos := (page-1)*size + offset

	startBucket := (pos+domain.MaxBucketSize-capacity)/domain.MaxBucketSize + 1
	if startBucket < 1 {
		startBucket = 1
	}

	if startBucket == 1 {
		// Окно начинается в первом релевантном бакете: его отфильтрованные
		// записи и есть начало нумерации, offset уже учтен фильтром.
		return 0, (page - 1) * size
	}

	startEntry = pos - capacity
	if startBucket > 2 {
		startEntry -= (startBucket - 2) * domain.MaxBucketSize
	}
	if startEntry < 0 {
		startEntry = 0
	}
	return startBucket - 1, startEntry
}

// FlattenPage превращает окно из (максимум двух) бакетов в страницу:
// размазываем документы, фильтруем по точному диапазону, сортируем по
// таймстемпу записи, пропускаем startEntry, берем size.
func FlattenPage(buckets []domain.Bucket, opts domain.QueryOptions, startEntry int) []domain.Document {
	var docs []domain.Document
	for _, b := range buckets {
		for _, d := range b.Documents {
			if d.TS.Before(opts.DateFrom) || d.TS.After(opts.DateTo) {
				continue
			}
			docs = append(docs, d)
		}
	}

	sort.SliceStable(docs, func(i, j int) bool {
		if opts.Sort == domain.SortDesc {
			return docs[i].TS.After(docs[j].TS)
		}
		return docs[i].TS.Before(docs[j].TS)
	})

	if startEntry >= len(docs) {
		return nil
	}
	docs = docs[startEntry:]
	if len(docs) > opts.Size {
		docs = docs[:opts.Size]
	}
	return docs
}

// CountMatching — сколько документов бакета попадает в диапазон.
func CountMatching(b *domain.Bucket, opts domain.QueryOptions) int {
	n := 0
	for _, d := range b.Documents {
		if d.TS.Before(opts.DateFrom) || d.TS.After(opts.DateTo) {
			continue
		}
		n++
	}
	return n
}
