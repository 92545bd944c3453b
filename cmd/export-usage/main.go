package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/xuri/excelize/v2"

	"skylark-data/internal/config"
	"skylark-data/internal/database"
	"skylark-data/internal/repository"
)

// export-usage writes the per-participant data-quantity summaries of one
// study into an xlsx workbook, one row per (participant, day, stream).
func main() {
	studyObjectID := flag.String("study", "", "study object id")
	output := flag.String("out", "usage.xlsx", "output workbook path")
	flag.Parse()
	if *studyObjectID == "" {
		fmt.Fprintln(os.Stderr, "usage: export-usage -study <object-id> [-out usage.xlsx]")
		os.Exit(2)
	}

	cfg := config.Load()
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer database.Close(db)

	ctx := context.Background()
	studies := repository.NewPostgresStudiesRepository(db)
	participants := repository.NewPostgresParticipantsRepository(db)
	summaries := repository.NewPostgresSummariesRepository(db)

	study, err := studies.GetStudyByObjectID(ctx, *studyObjectID)
	if err != nil {
		log.Fatalf("failed to load study: %v", err)
	}
	rows, err := summaries.ForStudy(ctx, study.ID)
	if err != nil {
		log.Fatalf("failed to load summaries: %v", err)
	}

	patientIDs := make(map[int64]string)
	list, err := participants.ListByStudy(ctx, study.ID)
	if err != nil {
		log.Fatalf("failed to load participants: %v", err)
	}
	for _, p := range list {
		patientIDs[p.ID] = p.PatientID
	}

	f := excelize.NewFile()
	defer f.Close()
	sheet := "Data Quantity"
	index, err := f.NewSheet(sheet)
	if err != nil {
		log.Fatalf("failed to create sheet: %v", err)
	}
	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	headers := []string{"Patient ID", "Date", "Data Stream", "Bytes"}
	for col, header := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			log.Fatalf("failed to build header cell: %v", err)
		}
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			log.Fatalf("failed to write header: %v", err)
		}
	}

	for i, summary := range rows {
		values := []any{
			patientIDs[summary.ParticipantID],
			summary.Date.Format("2006-01-02"),
			summary.DataStream,
			summary.Bytes,
		}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				log.Fatalf("failed to build cell: %v", err)
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				log.Fatalf("failed to write row %d: %v", i+2, err)
			}
		}
	}

	if err := f.SaveAs(*output); err != nil {
		log.Fatalf("failed to save workbook: %v", err)
	}
	fmt.Printf("wrote %d rows to %s\n", len(rows), *output)
}
