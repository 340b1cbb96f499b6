package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/xela07ax/clearing-house/internal/domain"
)

const (
	dateLayout     = "2006-01-02"
	defaultPage    = 1
	defaultSize    = 10
	maxSize        = 100
	defaultRangeBk = 14 * 24 * time.Hour // две недели назад, если диапазон не задан
)

// parseQueryOptions нормализует query-параметры range-запроса.
// Все ошибки валидации возвращаются клиенту как 400.
func parseQueryOptions(r *http.Request) (domain.QueryOptions, error) {
	q := r.URL.Query()
	opts := domain.QueryOptions{
		Page: defaultPage,
		Size: defaultSize,
		Sort: domain.SortAsc,
	}

	if raw := q.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return opts, domain.E(domain.KindValidation, "server.query", "invalid page parameter")
		}
		opts.Page = n
	}

	if raw := q.Get("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return opts, domain.E(domain.KindValidation, "server.query", "invalid size parameter")
		}
		if n > maxSize {
			n = maxSize
		}
		opts.Size = n
	}

	switch q.Get("sort") {
	case "", "asc":
		opts.Sort = domain.SortAsc
	case "desc":
		opts.Sort = domain.SortDesc
	default:
		return opts, domain.E(domain.KindValidation, "server.query", "invalid sort parameter")
	}

	rawFrom, rawTo := q.Get("date_from"), q.Get("date_to")
	// Конец диапазона без начала не имеет смысла
	if rawTo != "" && rawFrom == "" {
		return opts, domain.E(domain.KindValidation, "server.query", "date_to requires date_from")
	}

	now := time.Now().UTC()
	switch {
	case rawFrom == "":
		opts.DateFrom = now.Add(-defaultRangeBk)
		opts.DateTo = now
	default:
		from, err := time.Parse(dateLayout, rawFrom)
		if err != nil {
			return opts, domain.E(domain.KindValidation, "server.query", "invalid date_from, expected YYYY-MM-DD")
		}
		opts.DateFrom = from
		if rawTo == "" {
			opts.DateTo = now
			break
		}
		to, err := time.Parse(dateLayout, rawTo)
		if err != nil {
			return opts, domain.E(domain.KindValidation, "server.query", "invalid date_to, expected YYYY-MM-DD")
		}
		// Верхняя граница включает весь указанный день
		opts.DateTo = to.Add(24*time.Hour - time.Nanosecond)
	}

	if opts.DateTo.Before(opts.DateFrom) {
		return opts, domain.E(domain.KindValidation, "server.query", "date_to precedes date_from")
	}
	return opts, nil
}
