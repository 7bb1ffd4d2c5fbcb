// flashsim plays the probe side of a flash programming session against a
// simulated NOR device: it loads an image, erases what the image covers,
// streams every segment through the flash algorithm and reads it back.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cstrahan/imxrt-flash-algorithm/algorithm"
	"github.com/cstrahan/imxrt-flash-algorithm/firmware"
	"github.com/cstrahan/imxrt-flash-algorithm/flash"
	"github.com/cstrahan/imxrt-flash-algorithm/wire"
)

var inFile = flag.String("input_filename", "", "image to program (raw, S-record, optionally compressed)")
var format = flag.String("format", "auto", "input container: auto, raw, lzss, lz4, zstd, xz or zlib")
var loadAddr = flag.String("load_address", "0x60000000", "address of a raw binary image")
var nandPageSize = flag.Int("nand_page_size", 0x800, "NAND page size, with -nand_oob_size")
var nandOOBSize = flag.Int("nand_oob_size", 0, "if nonzero, strip this many spare bytes after every NAND page")
var deviceConfig = flag.String("device_config", "", "YAML device description; defaults to the i.MX RT FlexSPI NOR")
var flashFile = flag.String("flash_filename", "", "if nonempty, back the simulated flash with this file")
var chunkSize = flag.Int("chunk_size", 4096, "bytes per program call")
var level = flag.Int("compression_level", 9, "zlib level for the transfer")
var uncompressed = flag.Bool("uncompressed", false, "send plain pages instead of a compressed stream")
var eraseAll = flag.Bool("erase_all", false, "erase the whole chip instead of the sectors the image covers")
var metricsFile = flag.String("metrics_filename", "", "if nonempty, write prometheus metrics to this file")
var intermediatesPrefix = flag.String("intermediates_prefix", "", "if nonempty, writes intermediate files with this prefix")

func maybeWriteIntermediate(data []byte, suffix string) error {
	prefix := *intermediatesPrefix
	if prefix == "" {
		return nil
	}

	filename := fmt.Sprintf("%s.%s", prefix, suffix)
	if err := os.WriteFile(filename, data, 0666); err != nil {
		return err
	}

	glog.Infof("Wrote %d bytes to %v", len(data), filename)
	return nil
}

func openDevice(geo flash.Geometry) (*flash.Device, error) {
	if *flashFile == "" {
		return flash.NewMemory(geo)
	}
	return flash.OpenFile(*flashFile, geo)
}

func erase(dev flash.Driver, m *algorithm.Metrics, segs []*firmware.Segment) error {
	a, err := algorithm.New(dev, algorithm.Options{Function: algorithm.FunctionErase, Metrics: m})
	if err != nil {
		return err
	}
	defer a.Close()

	if *eraseAll {
		return a.EraseAll()
	}

	geo := a.Geometry()
	done := make(map[uint32]bool)
	for _, s := range segs {
		for _, sec := range geo.Sectors(s.Start, len(s.Data)) {
			if done[sec] {
				continue
			}
			if err := a.EraseSector(sec); err != nil {
				return err
			}
			done[sec] = true
		}
	}
	glog.Infof("Erased %d sectors", len(done))
	return nil
}

func program(dev flash.Driver, m *algorithm.Metrics, segs []*firmware.Segment) error {
	a, err := algorithm.New(dev, algorithm.Options{
		Compressed: !*uncompressed,
		Function:   algorithm.FunctionProgram,
		Metrics:    m,
	})
	if err != nil {
		return err
	}
	geo := a.Geometry()

	for _, s := range segs {
		payload := s.Data
		if !*uncompressed {
			payload, err = wire.Frame(s.Data, *level)
			if err != nil {
				a.Close()
				return fmt.Errorf("can't frame segment %v: %w", s, err)
			}
			if err := maybeWriteIntermediate(payload, fmt.Sprintf("%08x.frame", s.Start)); err != nil {
				a.Close()
				return fmt.Errorf("can't write frame: %w", err)
			}
			glog.Infof("Segment %v: %d bytes, %d on the wire", s, len(s.Data), len(payload))
		}

		if *uncompressed {
			for off := 0; off < len(payload); off += *chunkSize {
				end := off + *chunkSize
				if end > len(payload) {
					end = len(payload)
				}
				if err := a.ProgramPage(s.Start+uint32(off), payload[off:end]); err != nil {
					a.Close()
					return fmt.Errorf("can't program %v: %w (code %d)", s, err, algorithm.Code(err))
				}
			}
			continue
		}

		for i, c := range wire.Split(payload, *chunkSize, geo.EmptyValue) {
			if err := a.ProgramPage(s.Start, c); err != nil {
				a.Close()
				return fmt.Errorf("can't program chunk %d of %v: %w (code %d)", i, s, err, algorithm.Code(err))
			}
		}
	}

	if err := a.Close(); err != nil {
		return fmt.Errorf("can't finish programming: %w (code %d)", err, algorithm.Code(err))
	}
	return nil
}

func verify(dev flash.Driver, segs []*firmware.Segment) error {
	a, err := algorithm.New(dev, algorithm.Options{Function: algorithm.FunctionVerify})
	if err != nil {
		return err
	}
	defer a.Close()

	for _, s := range segs {
		end, err := a.Verify(s.Start, s.Data)
		if err != nil {
			return err
		}
		if want := s.Start + s.Size(); end != want {
			return fmt.Errorf("segment %v differs at 0x%08x", s, end)
		}
	}
	return nil
}

func main() {
	flag.Parse()
	defer glog.Flush()

	if *inFile == "" {
		glog.Exit("-input_filename is required")
	}

	geo := flash.DefaultGeometry
	if *deviceConfig != "" {
		var err error
		if geo, err = flash.LoadGeometry(*deviceConfig); err != nil {
			glog.Exit(err)
		}
	}

	f, err := firmware.ParseFormat(*format)
	if err != nil {
		glog.Exit(err)
	}
	base, err := strconv.ParseUint(*loadAddr, 0, 32)
	if err != nil {
		glog.Exitf("can't parse load address: %v", err)
	}
	img, err := firmware.Load(*inFile, firmware.LoadOptions{
		Format:       f,
		Base:         uint32(base),
		NANDPageSize: *nandPageSize,
		NANDOOBSize:  *nandOOBSize,
	})
	if err != nil {
		glog.Exit(err)
	}

	segs := img.Segments()
	for _, s := range segs {
		if !geo.Contains(s.Start, len(s.Data)) {
			glog.Exitf("segment %v is outside %s [0x%08x+0x%x]", s, geo.Name, geo.Base, geo.Size)
		}
	}

	dev, err := openDevice(geo)
	if err != nil {
		glog.Exitf("can't open flash: %v", err)
	}
	defer dev.Close()

	reg := prometheus.NewRegistry()
	m := algorithm.NewMetrics(reg)

	if err := erase(dev, m, segs); err != nil {
		glog.Exitf("Erase failed: %v", err)
	}
	if err := program(dev, m, segs); err != nil {
		glog.Exitf("Program failed: %v", err)
	}
	if err := verify(dev, segs); err != nil {
		glog.Exitf("Verify failed: %v", err)
	}
	glog.Infof("Programmed and verified %d segments (%d bytes, %d pages)", len(segs), img.Size(), dev.PagesProgrammed)

	if *metricsFile != "" {
		if err := prometheus.WriteToTextfile(*metricsFile, reg); err != nil {
			glog.Exitf("can't write metrics: %v", err)
		}
	}
}
