package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/EvgenyMekhanik/small/small"
)

var (
	classGranularity uint32
	classFactor      float32
	classMinAlloc    uint32
	classCount       uint32
)

type classRow struct {
	Class      uint32  `json:"class"`
	Size       uint32  `json:"size"`
	RealFactor float64 `json:"real_factor"`
}

var classesCmd = &cobra.Command{
	Use:   "classes",
	Short: "Print the size-class table for a granularity/factor/min-alloc triple",
	RunE: func(cmd *cobra.Command, args []string) error {
		sc, err := small.NewSizeClass(classGranularity, classFactor, classMinAlloc)
		if err != nil {
			return err
		}
		rows := make([]classRow, classCount)
		for c := uint32(0); c < classCount; c++ {
			rows[c] = classRow{
				Class:      c,
				Size:       sc.SizeByClass(c),
				RealFactor: float64(sc.SizeByClass(c+1)) / float64(sc.SizeByClass(c)),
			}
		}
		if jsonOut {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rows)
		}
		p := message.NewPrinter(language.English)
		p.Printf("requested factor %v, actual factor %v, classes per decade %d\n",
			sc.RequestedFactor(), sc.ActualFactor(), sc.EffSize())
		p.Printf("%6s  %12s  %11s\n", "class", "size", "real factor")
		for _, r := range rows {
			p.Printf("%6d  %12d  %11.6f\n", r.Class, r.Size, r.RealFactor)
		}
		return nil
	},
}

func init() {
	classesCmd.Flags().Uint32Var(&classGranularity, "granularity", 8,
		"Alignment granularity (power of two)")
	classesCmd.Flags().Float32Var(&classFactor, "factor", 1.05, "Growth factor in (1, 2]")
	classesCmd.Flags().Uint32Var(&classMinAlloc, "min-alloc", 16, "Smallest class size")
	classesCmd.Flags().Uint32Var(&classCount, "count", 64, "Classes to print")
	rootCmd.AddCommand(classesCmd)
}
