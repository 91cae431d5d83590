package bot

import (
	"strconv"
	"time"

	tele "gopkg.in/telebot.v4"

	"schedbot/pkg/tgui"
)

const (
	cbDate      = "date"
	dateLayout  = "20060102"
	shortLayout = "02.01.2006"

	// pickerMinDays is the number of days left in the month below which the
	// picker also offers the start of the next month.
	pickerMinDays = 10
)

var monthsGenitive = [...]string{
	"января", "февраля", "марта", "апреля", "мая", "июня",
	"июля", "августа", "сентября", "октября", "ноября", "декабря",
}

// Monday first.
var weekdaysShort = [...]string{"Пн", "Вт", "Ср", "Чт", "Пт", "Сб", "Вс"}

// PickerDays returns the dates offered by the date picker: today through the
// end of the month, plus days 1..10 of the next month when fewer than ten
// days remain.
func PickerDays(today time.Time) []time.Time {
	y, m, d := today.Date()
	loc := today.Location()
	last := time.Date(y, m+1, 0, 0, 0, 0, 0, loc).Day()

	days := make([]time.Time, 0, last-d+1+pickerMinDays)
	for day := d; day <= last; day++ {
		days = append(days, time.Date(y, m, day, 0, 0, 0, 0, loc))
	}
	if last-d+1 < pickerMinDays {
		for day := 1; day <= pickerMinDays; day++ {
			// time.Date normalizes December+1 into January of the next year.
			days = append(days, time.Date(y, m+1, day, 0, 0, 0, 0, loc))
		}
	}
	return days
}

// DayLabel renders "3 сентября (Вт)".
func DayLabel(d time.Time) string {
	wd := (int(d.Weekday()) + 6) % 7
	return strconv.Itoa(d.Day()) + " " + monthsGenitive[d.Month()-1] + " (" + weekdaysShort[wd] + ")"
}

func datePicker(today time.Time) *tele.ReplyMarkup {
	days := PickerDays(today)
	btns := make([]tele.Btn, 0, len(days))
	for _, d := range days {
		btns = append(btns, tgui.Btn(DayLabel(d), tgui.Data(cbDate, d.Format(dateLayout))))
	}
	return tgui.NewInline().Grid(1, btns).Markup()
}

func parsePickedDate(payload string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(dateLayout, payload, loc)
}
