// Package rabbitmq содержит подключение к брокеру и публикацию событий
// о начислении лимитов. События читает бот, чтобы уведомить пользователя
// об успешной оплате.
package rabbitmq

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/streadway/amqp"
)

// Exchange и ключ маршрутизации событий начисления.
const (
	GrantsExchange   = "quota"
	GrantsQueue      = "quota.granted"
	GrantsRoutingKey = "granted"
)

// Connect устанавливает соединение с брокером с ретраями.
func Connect(connection string, retries int, delay time.Duration) (*amqp.Connection, error) {
	const op = "rabbitmq.Connect"
	var conn *amqp.Connection
	var err error

	for range retries {
		conn, err = amqp.Dial(connection)
		if err == nil {
			return conn, nil
		}
		time.Sleep(delay)
	}

	return nil, fmt.Errorf("%s: %w", op, err)
}

// SetupChannel открывает канал и объявляет exchange и очередь событий.
func SetupChannel(conn *amqp.Connection) (*amqp.Channel, error) {
	const op = "rabbitmq.SetupChannel"

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	err = ch.ExchangeDeclare(
		GrantsExchange,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	_, err = ch.QueueDeclare(
		GrantsQueue,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to declare queue %s: %w", op, GrantsQueue, err)
	}

	err = ch.QueueBind(
		GrantsQueue,
		GrantsRoutingKey,
		GrantsExchange,
		false,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to bind queue %s: %w", op, GrantsQueue, err)
	}

	return ch, nil
}

// PublishMessage публикует сообщение в RabbitMQ.
func PublishMessage(ch *amqp.Channel, exchange string, routingkey string, message any) error {
	const op = "rabbitmq.PublishMessage"
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	err = ch.Publish(
		exchange,
		routingkey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
