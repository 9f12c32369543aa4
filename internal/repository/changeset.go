package repository

import (
	"errors"
	"time"

	"github.com/erpwoosync/cianbox-pos-sub001/internal/model"
)

// Changeset описывает все изменения одной операции, которые сохраняются атомарно.
//
// Updated — смены, прочитанные из хранилища и изменённые операцией. Их поле Version
// должно совпадать с сохранённым: иначе операция проиграла гонку и весь набор
// отклоняется. После успешного сохранения Version увеличивается.
type Changeset struct {
	Updated  []*model.CashSession
	Created  []*model.CashSession
	Counts   []*model.CashCount
	Movement *model.CashMovement
	Posting  *model.SalePosting
	Treasury *model.TreasuryPending
}

// errAppendOnly возвращается при попытке повторно сохранить неизменяемую запись.
var errAppendOnly = errors.New("record already exists")

// DayRange возвращает границы суток [from, to) для даты в её часовом поясе.
func DayRange(day time.Time) (time.Time, time.Time) {
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	return from, from.AddDate(0, 0, 1)
}
