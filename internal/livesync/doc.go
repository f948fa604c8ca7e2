// Package livesync pushes credential changes to every device that should
// honour them.
//
// A sync walks credential → owner → access groups → devices, deduplicates the
// devices, and calls the brand's driver for each one concurrently. Every
// device call has its own timeout and its own outcome: a device that is
// offline, rejects the credentials or cannot store the credential type is
// reported in the Report and never stops the others.
//
// Sync, Revoke and SyncUser never return errors. Outcomes are logged,
// written as metrics and published as a report for observability.
//
// Triggers:
//
//	orch := livesync.New(livesync.Config{CallTimeout: 5 * time.Second}, resolver, creds, drivers)
//	report := orch.Sync(ctx, "cred-42")
//
//	trigger := livesync.NewTrigger(serviceCtx, orch)
//	mqttClient.Subscribe(mqtt.Topics{}.AllCredentialChanges(), 1, trigger.HandleMessage)
package livesync
