package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-access/internal/audit"
	"github.com/nerrad567/gray-logic-access/internal/driver"
)

var (
	imageDevice  string
	imageSubject string
	imageAltID   string
	imagePath    string
	imageOut     string
)

var imageCmd = &cobra.Command{
	Use:   "image",
	Short: "Download an enrolment or event picture from a device",
	Long: `Fetches a picture held by the device. --path takes the vendor picture
path carried by an event; otherwise --subject and then --alt are looked up.`,
	Example: `  accessctl image --device dev-door --subject 1001 --out face.jpg`,
	Args:    cobra.NoArgs,
	RunE:    runImage,
}

func init() {
	imageCmd.Flags().StringVarP(&imageDevice, "device", "d", "", "device ID")
	imageCmd.Flags().StringVarP(&imageSubject, "subject", "s", "", "subject ID on the device")
	imageCmd.Flags().StringVar(&imageAltID, "alt", "", "alternative subject ID tried when --subject has no picture")
	imageCmd.Flags().StringVar(&imagePath, "path", "", "vendor picture path from an event")
	imageCmd.Flags().StringVarP(&imageOut, "out", "o", "", "write the picture to this file instead of stdout")
	rootCmd.AddCommand(imageCmd)
}

func runImage(cmd *cobra.Command, _ []string) error {
	if imageSubject == "" && imageAltID == "" && imagePath == "" {
		return errors.New("one of --subject, --alt or --path is required")
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	dev, drv, err := lookupDriver(ctx, imageDevice)
	if err != nil {
		return err
	}

	data, err := drv.FetchSubjectImage(ctx, dev, imageSubject, imageAltID, imagePath)
	recordAudit(cmd, audit.Entry{
		Action:   audit.ActionSubjectImage,
		DeviceID: dev.ID,
		Outcome:  driver.KindName(err),
		Details:  map[string]any{"subject_id": imageSubject, "bytes": len(data)},
	})
	if err != nil {
		return fmt.Errorf("fetching image: %w", err)
	}
	if len(data) == 0 {
		return errors.New("device has no picture for this subject")
	}

	if imageOut == "" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(imageOut, data, 0600); err != nil {
		return fmt.Errorf("writing %s: %w", imageOut, err)
	}
	cmd.PrintErrf("Wrote %d bytes (%s) to %s\n", len(data), http.DetectContentType(data), imageOut)
	return nil
}
