package heapinfo_test

import (
	"bytes"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/jnesss/ttrace/heapinfo"
)

var _ = Describe("Reporter", func() {
	var (
		mockCtrl *gomock.Controller
		table    *MockTaskTable
		heap     *MockHeapAccessor
		tasks    []*heapinfo.Task
		cfg      heapinfo.Config
		reporter *heapinfo.Reporter
	)

	walk := func(visit func(*heapinfo.Task)) {
		for _, t := range tasks {
			visit(t)
		}
	}

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		table = NewMockTaskTable(mockCtrl)
		heap = NewMockHeapAccessor(mockCtrl)
		tasks = []*heapinfo.Task{
			{PID: 0, PPID: 0, StackSize: 0, CurrHeap: 16, PeakHeap: 32, Name: "idle"},
			{PID: 5, PPID: 0, StackSize: 2048, CurrHeap: 300, PeakHeap: 1000, Name: "worker"},
			{PID: 9, PPID: 5, StackSize: 4096, CurrHeap: 0, PeakHeap: 64, Name: ""},
		}
		cfg = heapinfo.Config{IdleStackSize: 1024, ShowParent: true}
		reporter = heapinfo.NewReporter(table, heap, cfg)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	Context("when clearing peaks", func() {
		It("should reset every peak and leave current allocation", func() {
			table.EXPECT().ForEachTask(gomock.Any()).Do(walk)

			report, err := reporter.Run(heapinfo.ClearPeak())

			Expect(err).ToNot(HaveOccurred())
			Expect(report.Cleared).To(Equal([]int{0, 5, 9}))
			Expect(tasks[1].PeakHeap).To(Equal(int64(0)))
			Expect(tasks[1].CurrHeap).To(Equal(int64(300)))
			Expect(report.Rows).To(BeEmpty())
		})

		It("should not consult the heap accessor", func() {
			tasks = nil
			table.EXPECT().ForEachTask(gomock.Any()).Do(walk)
			heap.EXPECT().CurrentHeapInfo(gomock.Any()).Times(0)

			report, err := reporter.Run(heapinfo.ClearPeak())

			Expect(err).ToNot(HaveOccurred())
			Expect(report.Cleared).To(BeEmpty())
		})
	})

	Context("when showing all tasks", func() {
		It("should produce one row per task with the idle stack policy", func() {
			heap.EXPECT().
				CurrentHeapInfo(heapinfo.ShowAll()).
				Return(heapinfo.Stats{TotalSize: 8192, AllocSize: 316}, nil)
			table.EXPECT().ForEachTask(gomock.Any()).Do(walk)

			report, err := reporter.Run(heapinfo.ShowAll())

			Expect(err).ToNot(HaveOccurred())
			Expect(report.Rows).To(HaveLen(3))
			Expect(report.Rows[0].StackSize).To(Equal(1024))
			Expect(report.Rows[1].StackSize).To(Equal(2048))
			Expect(report.Stats.TotalSize).To(Equal(int64(8192)))
			Expect(tasks[0].StackSize).To(Equal(0))
		})

		It("should propagate accessor errors", func() {
			heap.EXPECT().
				CurrentHeapInfo(gomock.Any()).
				Return(heapinfo.Stats{}, errors.New("heap unavailable"))

			_, err := reporter.Run(heapinfo.ShowAll())

			Expect(err).To(MatchError(ContainSubstring("heap unavailable")))
		})
	})

	Context("when showing one pid", func() {
		It("should only include that pid", func() {
			heap.EXPECT().CurrentHeapInfo(heapinfo.ShowOnePid(5))
			table.EXPECT().ForEachTask(gomock.Any()).Do(walk)

			report, err := reporter.Run(heapinfo.ShowOnePid(5))

			Expect(err).ToNot(HaveOccurred())
			Expect(report.Rows).To(HaveLen(1))
			Expect(report.Rows[0].Name).To(Equal("worker"))
		})

		It("should return an empty report for a missing pid", func() {
			heap.EXPECT().CurrentHeapInfo(heapinfo.ShowOnePid(7))
			table.EXPECT().ForEachTask(gomock.Any()).Do(walk)

			report, err := reporter.Run(heapinfo.ShowOnePid(7))

			Expect(err).ToNot(HaveOccurred())
			Expect(report.Rows).To(BeEmpty())
		})

		It("should reject a negative pid", func() {
			_, err := reporter.Run(heapinfo.ShowOnePid(-1))

			Expect(errors.Is(err, heapinfo.ErrInvalidArgument)).To(BeTrue())
		})
	})

	Context("when showing the free list", func() {
		It("should produce a single free list row", func() {
			heap.EXPECT().
				CurrentHeapInfo(heapinfo.ShowFreeList()).
				Return(heapinfo.Stats{FreeNodes: 3, FreeSize: 4000, LargestFree: 2500}, nil)

			report, err := reporter.Run(heapinfo.ShowFreeList())

			Expect(err).ToNot(HaveOccurred())
			Expect(report.Rows).To(BeEmpty())
			Expect(*report.FreeList).To(Equal(heapinfo.FreeListRow{Nodes: 3, Size: 4000, Largest: 2500}))
		})
	})

	It("should reject unknown modes", func() {
		_, err := reporter.Run(heapinfo.Mode{Kind: heapinfo.ModeKind(42)})

		Expect(errors.Is(err, heapinfo.ErrUnknownMode)).To(BeTrue())
	})

	Context("when rendering", func() {
		It("should print the table with the parent column", func() {
			heap.EXPECT().CurrentHeapInfo(gomock.Any())
			table.EXPECT().ForEachTask(gomock.Any()).Do(walk)
			report, err := reporter.Run(heapinfo.Simple())
			Expect(err).ToNot(HaveOccurred())

			var buf bytes.Buffer
			Expect(heapinfo.Render(&buf, report, cfg)).To(Succeed())

			Expect(buf.String()).To(Equal("\n" +
				"PID |  PPID | STACK | CURR_HEAP | PEAK_HEAP | NAME\n" +
				"----|-------|-------|-----------|-----------|----------\n" +
				"  0 |     0 |  1024 |        16 |        32 | idle\n" +
				"  5 |     0 |  2048 |       300 |      1000 | worker\n" +
				"  9 |     5 |  4096 |         0 |        64 | <noname>\n"))
		})

		It("should omit the parent column when disabled", func() {
			report := &heapinfo.Report{
				Mode: heapinfo.Simple(),
				Rows: []heapinfo.Row{{PID: 3, StackSize: 512, CurrHeap: 1, PeakHeap: 2, Name: "sh"}},
			}

			var buf bytes.Buffer
			Expect(heapinfo.Render(&buf, report, heapinfo.Config{})).To(Succeed())

			Expect(buf.String()).To(Equal("\n" +
				"PID | STACK | CURR_HEAP | PEAK_HEAP | NAME\n" +
				"----|-------|-----------|-----------|----------\n" +
				"  3 |   512 |         1 |         2 | sh\n"))
		})

		It("should confirm cleared peaks", func() {
			report := &heapinfo.Report{Mode: heapinfo.ClearPeak(), Cleared: []int{0, 5}}

			var buf bytes.Buffer
			Expect(heapinfo.Render(&buf, report, cfg)).To(Succeed())

			Expect(buf.String()).To(Equal(
				"PID 0, peak allocated heap information is cleared\n" +
					"PID 5, peak allocated heap information is cleared\n" +
					"Peak allocated memory size is cleared\n"))
		})

		It("should print usage", func() {
			var buf bytes.Buffer
			Expect(heapinfo.RenderUsage(&buf)).To(Succeed())

			Expect(buf.String()).To(ContainSubstring("Usage: heapinfo [OPTIONS]"))
			Expect(buf.String()).To(ContainSubstring(" -p PID       Show the specific PID allocation details"))
		})
	})
})
