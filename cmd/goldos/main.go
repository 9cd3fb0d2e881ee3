package main

import (
	"bufio"
	"flag"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/goldos/goldos/config"
	"github.com/goldos/goldos/cpu"
	"github.com/goldos/goldos/kernel"
	"github.com/goldos/goldos/translate"
)

func main() {
	var conf string
	var image string
	var format bool
	var inspect bool
	var list bool
	var dump bool
	var compile string
	var install string
	var listing bool
	var run string
	var debug bool
	var remove string
	var verbose bool
	var trace bool

	flag.StringVar(&conf, "c", "goldos.toml", "Machine configuration")
	flag.StringVar(&image, "d", "", "EEPROM image to use, overrides the configuration")
	flag.BoolVar(&format, "f", false, "Format the disk")
	flag.BoolVar(&inspect, "i", false, "Inspect the disk blocks")
	flag.BoolVar(&list, "l", false, "List files")
	flag.BoolVar(&dump, "x", false, "Hex dump the EEPROM")
	flag.StringVar(&compile, "a", "", ".s file to assemble")
	flag.StringVar(&install, "o", "", "File name to install the assembled program as")
	flag.BoolVar(&listing, "L", false, "Print the assembler listing")
	flag.StringVar(&run, "r", "", "Program file to run")
	flag.BoolVar(&debug, "g", false, "Single step the program from standard input")
	flag.StringVar(&remove, "rm", "", "File to delete")
	flag.BoolVar(&verbose, "v", false, "Verbose mode")
	flag.BoolVar(&trace, "t", false, "Trace every instruction")

	flag.Parse()

	if flag.NArg() != 0 {
		log.Fatalf("%v: Unknown arguments: %v", os.Args[0], flag.Args())
	}

	cfg, err := config.Load(conf)
	if err != nil {
		log.Fatal(err)
	}
	if len(image) != 0 {
		cfg.Store.Image = image
	}
	cfg.Trace.Verbose = cfg.Trace.Verbose || verbose
	cfg.Trace.Instructions = cfg.Trace.Instructions || trace

	verbosity := 0
	if cfg.Trace.Instructions || debug {
		verbosity = 2
	}
	commonlog.Configure(verbosity, nil)
	tracer := commonlog.GetLogger("goldos.cpu")

	k, err := kernel.New(cfg)
	if err != nil {
		log.Fatal(err)
	}
	k.Serial.Input = os.Stdin
	k.Serial.Output = os.Stdout
	k.Tracer = cpu.TracerFunc(tracer.Debugf)

	if format {
		err = k.Disk.Format()
	} else {
		err = k.Boot()
	}
	if err != nil {
		log.Fatalf("%v: %v", cfg.Store.Image, err)
	}
	defer func() {
		err := k.Shutdown()
		if err != nil {
			log.Fatalf("%v: %v", cfg.Store.Image, err)
		}
	}()

	// Assemble, and optionally install, a program.
	if len(compile) != 0 {
		inf, err := os.Open(compile)
		if err != nil {
			log.Fatalf("%v: %v", compile, err)
		}
		defer inf.Close()

		prog, err := k.Assemble(inf)
		if err != nil {
			log.Fatalf("%v: %v", compile, err)
		}

		if listing {
			err = prog.Listing(os.Stdout)
			if err != nil {
				log.Fatal(err)
			}
		}

		if len(install) == 0 {
			install = strings.TrimSuffix(filepath.Base(compile), filepath.Ext(compile))
		}
		err = k.Install(install, prog)
		if err != nil {
			log.Fatal(err)
		}
	}

	if len(remove) != 0 {
		err = k.Files.Delete(remove)
		if err != nil {
			log.Fatal(err)
		}
	}

	if len(run) != 0 {
		err = k.Run(run, debug, bufio.NewReader(os.Stdin))
		if err != nil {
			log.Print(err)
		}
	}

	if list {
		for name, size := range k.Files.List() {
			translate.Fprintf(os.Stdout, "%5d %s\n", size, name)
		}
	}

	if inspect {
		report, err := k.Disk.Check()
		report.Print(os.Stdout)
		if err != nil {
			log.Print(err)
		}
	}

	if dump {
		err = k.Store.Dump(os.Stdout)
		if err != nil {
			log.Fatal(err)
		}
	}
}
