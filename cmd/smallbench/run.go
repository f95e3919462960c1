package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/EvgenyMekhanik/small/mempool"
	"github.com/EvgenyMekhanik/small/slab"
	"github.com/EvgenyMekhanik/small/small"
)

var defaultFactors = []float32{1.01, 1.03, 1.05, 1.1, 1.3, 1.5}

var (
	runSlabSize   uint32
	runFactors    []float32
	runObjects    int
	runIterations int
	runSizeMin    uint32
	runSizeMax    uint32
	runWorkloads  []string
	runSeed       int64
)

// result is one workload/factor measurement.
type result struct {
	Workload     string  `json:"workload"`
	SlabSize     uint32  `json:"slab_size"`
	Factor       float32 `json:"factor"`
	ActualFactor float32 `json:"actual_factor"`
	Iterations   int     `json:"iterations"`
	NsPerOp      float64 `json:"ns_per_op"`
	PoolsUsed    int     `json:"pools_used"`
	UsedBytes    uint64  `json:"used_bytes"`
	TotalBytes   uint64  `json:"total_bytes"`
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run allocator workloads and report throughput",
	RunE: func(cmd *cobra.Command, args []string) error {
		if runSlabSize&(runSlabSize-1) != 0 {
			return fmt.Errorf("slab size %d is not a power of two", runSlabSize)
		}
		factors := runFactors
		if len(factors) == 0 {
			factors = defaultFactors
		}
		var results []result
		for _, workload := range runWorkloads {
			sizer, err := newSizer(workload)
			if err != nil {
				return err
			}
			for _, factor := range factors {
				r, err := runWorkload(workload, sizer, factor)
				if err != nil {
					return err
				}
				results = append(results, r)
			}
		}
		if jsonOut {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(results)
		}
		report(results)
		return nil
	},
}

func init() {
	runCmd.Flags().Uint32Var(&runSlabSize, "slab-size", 4<<20,
		"Slab size in bytes (power of two, 4-16 MiB)")
	runCmd.Flags().Float32SliceVar(&runFactors, "factor", nil,
		"Growth factors to test (default 1.01,1.03,1.05,1.1,1.3,1.5)")
	runCmd.Flags().IntVar(&runObjects, "objects", 1000, "Live objects kept during churn")
	runCmd.Flags().IntVar(&runIterations, "iterations", 1000000, "Alloc/free operations per run")
	runCmd.Flags().Uint32Var(&runSizeMin, "size-min", 16, "Smallest object size")
	runCmd.Flags().Uint32Var(&runSizeMax, "size-max", 4096, "Largest object size")
	runCmd.Flags().StringSliceVar(&runWorkloads, "workload",
		[]string{"same", "random", "exp", "delayed"}, "Workloads to run")
	runCmd.Flags().Int64Var(&runSeed, "seed", 42, "Seed for the random workload")
	rootCmd.AddCommand(runCmd)
}

// newSizer returns the per-iteration object size function of a workload.
func newSizer(workload string) (func(i int) uint32, error) {
	switch workload {
	case "same":
		return func(int) uint32 { return runSizeMin * 4 }, nil
	case "random", "delayed":
		rng := rand.New(rand.NewSource(runSeed))
		return func(int) uint32 {
			return runSizeMin + uint32(rng.Intn(int(runSizeMax-runSizeMin)))
		}, nil
	case "exp":
		powFactor := math.Exp(math.Log(float64(runSizeMax)/float64(runSizeMin)) /
			float64(runObjects))
		return func(i int) uint32 {
			return uint32(float64(runSizeMin) *
				math.Pow(powFactor, float64(i%runObjects)))
		}, nil
	default:
		return nil, fmt.Errorf("unknown workload %q", workload)
	}
}

func runWorkload(workload string, sizer func(i int) uint32, factor float32) (result, error) {
	cache, err := slab.New(slab.Config{SlabSize: runSlabSize})
	if err != nil {
		return result{}, err
	}
	a, err := small.NewAllocator(cache, small.Config{
		ObjsizeMin:  12,
		Granularity: 8,
		Factor:      factor,
	})
	if err != nil {
		return result{}, err
	}
	slog.Debug("workload start",
		"workload", workload, "factor", factor, "actual", a.ActualFactor())

	delayed := workload == "delayed"
	if delayed {
		a.SetDelayedFreeMode(true)
	}
	type obj struct {
		buf  []byte
		size uint32
	}
	ring := make([]obj, runObjects)
	quarantined := 0
	start := time.Now()
	for i := 0; i < runIterations; i++ {
		slot := &ring[i%runObjects]
		if slot.buf != nil {
			if delayed {
				a.FreeDelayed(slot.buf, slot.size)
				quarantined++
			} else {
				a.Free(slot.buf, slot.size)
			}
		}
		size := sizer(i)
		buf := a.Alloc(size)
		if buf == nil {
			return result{}, fmt.Errorf("%s: out of memory at iteration %d", workload, i)
		}
		slot.buf, slot.size = buf, size
		if delayed && i%100000 == 99999 {
			// One snapshot cycle: collect the quarantine, re-arm.
			a.SetDelayedFreeMode(false)
			drain(a, quarantined)
			quarantined = 0
			a.SetDelayedFreeMode(true)
		}
	}
	elapsed := time.Since(start)

	var totals small.Stats
	pools := 0
	a.Stats(&totals, func(st *mempool.Stats) bool {
		if st.SlabCount > 0 {
			pools++
		}
		return false
	})
	r := result{
		Workload:     workload,
		SlabSize:     runSlabSize,
		Factor:       factor,
		ActualFactor: a.ActualFactor(),
		Iterations:   runIterations,
		NsPerOp:      float64(elapsed.Nanoseconds()) / float64(runIterations),
		PoolsUsed:    pools,
		UsedBytes:    totals.Used,
		TotalBytes:   totals.Total,
	}

	if delayed {
		a.SetDelayedFreeMode(false)
	}
	for i := range ring {
		if ring[i].buf != nil {
			a.Free(ring[i].buf, ring[i].size)
		}
	}
	drain(a, quarantined)
	a.Destroy()
	cache.Destroy()
	return r, nil
}

// drain runs empty alloc/free cycles until a backlog of n quarantined items
// is collected and the allocator is back to synchronous freeing. Each Alloc
// reclaims a batch of up to 100 items, so n/100 cycles plus slack suffice.
func drain(a *small.Allocator, n int) {
	for i := 0; i < n/100+3; i++ {
		buf := a.Alloc(64)
		if buf == nil {
			return
		}
		a.Free(buf, 64)
	}
}

func report(results []result) {
	p := message.NewPrinter(language.English)
	p.Printf("%-8s  %9s  %7s  %7s  %12s  %10s  %6s  %14s\n",
		"workload", "slab", "factor", "actual", "iterations", "ns/op", "pools", "slab bytes")
	for _, r := range results {
		p.Printf("%-8s  %9d  %7.2f  %7.4f  %12d  %10.1f  %6d  %14d\n",
			r.Workload, r.SlabSize, r.Factor, r.ActualFactor,
			r.Iterations, r.NsPerOp, r.PoolsUsed, r.TotalBytes)
	}
}
