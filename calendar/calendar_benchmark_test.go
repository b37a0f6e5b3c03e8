package calendar

import (
	"context"
	"strconv"
	"testing"
	"time"

	"todo-api/domain"
)

func BenchmarkBuildMonth(b *testing.B) {
	tasks := make([]domain.Task, 0, 120)
	for i := 0; i < 120; i++ {
		d := domain.NewDate(2024, time.June, i%30+1)
		tasks = append(tasks, domain.Task{
			ID:    strconv.Itoa(i),
			Title: "task " + strconv.Itoa(i),
			Due:   &d,
		})
	}
	builder := NewBuilder(&stubSource{tasks: tasks}, EnglishMonthNames)
	today := domain.NewDate(2024, time.June, 15)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := builder.BuildMonth(ctx, "2024", "6", "", today); err != nil {
			b.Fatal(err)
		}
	}
}
