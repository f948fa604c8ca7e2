// Package mqtt connects Gray Logic Access to the site MQTT broker.
//
// The broker is used in two directions:
//   - outbound: persisted access events, LiveSync reports and the retained
//     service status (with an LWT for crash detection)
//   - inbound: credential change notifications that trigger LiveSync
//
// Subscriptions are remembered and restored after automatic reconnects.
// Handlers run with panic recovery so a bad payload cannot take down the
// paho dispatch goroutine.
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllCredentialChanges(), 1, onCredentialChanged)
package mqtt
