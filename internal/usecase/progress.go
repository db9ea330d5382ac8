package usecase

import (
	"os"

	"github.com/cheggaaa/pb"

	"github.com/Global-Water-Security-Center/data-exploration/internal/domain"
)

// progress renders a terminal bar advanced once per finished work item.
type progress struct {
	bar *pb.ProgressBar
}

func progressFor(enabled bool, total int, prefix string) *progress {
	if !enabled || total <= 0 {
		return nil
	}
	bar := pb.New(total)
	bar.Output = os.Stderr
	bar.ShowTimeLeft = true
	bar.Prefix(prefix + " ")
	bar.Start()
	return &progress{bar: bar}
}

func (p *progress) done(domain.Outcome) {
	p.bar.Increment()
}

func (p *progress) finish() {
	p.bar.Finish()
}
