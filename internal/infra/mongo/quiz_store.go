package mongo

import (
	"context"
	"errors"
	"fmt"

	"classroom-live/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// QuizStore keeps questions and graded answers in two MongoDB collections.
// A unique index on (questionId, studentId) rejects second submissions.
type QuizStore struct {
	questions *mongo.Collection
	answers   *mongo.Collection
}

func NewQuizStore(client *mongo.Client, database string) *QuizStore {
	db := client.Database(database)
	return &QuizStore{
		questions: db.Collection("questions"),
		answers:   db.Collection("answers"),
	}
}

// EnsureIndexes creates the indexes the store depends on. It is idempotent.
func (s *QuizStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.answers.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "questionId", Value: 1}, {Key: "studentId", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("question_student_unique"),
		},
		{
			Keys: bson.D{{Key: "roomCode", Value: 1}, {Key: "answeredAt", Value: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("answer indexes: %w", err)
	}
	_, err = s.questions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "roomCode", Value: 1}, {Key: "status", Value: 1}, {Key: "sentAt", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("question indexes: %w", err)
	}
	return nil
}

func (s *QuizStore) SaveQuestion(ctx context.Context, q domain.Question) error {
	if q.Options == nil {
		q.Options = []string{}
	}
	_, err := s.questions.ReplaceOne(ctx, bson.M{"_id": q.ID}, q, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save question: %w", err)
	}
	return nil
}

func (s *QuizStore) EndQuestion(ctx context.Context, questionID string) error {
	res, err := s.questions.UpdateOne(ctx,
		bson.M{"_id": questionID},
		bson.M{"$set": bson.M{"status": domain.QuestionEnded}},
	)
	if err != nil {
		return fmt.Errorf("end question: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrQuestionNotFound
	}
	return nil
}

func (s *QuizStore) Question(ctx context.Context, questionID string) (domain.Question, error) {
	return s.findQuestion(ctx, bson.M{"_id": questionID})
}

func (s *QuizStore) ActiveQuestion(ctx context.Context, roomCode string) (domain.Question, error) {
	return s.findQuestion(ctx,
		bson.M{"roomCode": roomCode, "status": domain.QuestionActive},
		options.FindOne().SetSort(bson.D{{Key: "sentAt", Value: -1}}),
	)
}

func (s *QuizStore) InsertAnswer(ctx context.Context, answer domain.GradedAnswer) error {
	_, err := s.answers.InsertOne(ctx, answer)
	if mongo.IsDuplicateKeyError(err) {
		return domain.ErrDuplicateSubmission
	}
	if err != nil {
		return fmt.Errorf("insert answer: %w", err)
	}
	return nil
}

func (s *QuizStore) RoomAnswers(ctx context.Context, roomCode string) ([]domain.GradedAnswer, error) {
	cursor, err := s.answers.Find(ctx,
		bson.M{"roomCode": roomCode},
		options.Find().SetSort(bson.D{{Key: "answeredAt", Value: 1}, {Key: "answerId", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("room answers: %w", err)
	}
	defer cursor.Close(ctx)

	out := []domain.GradedAnswer{}
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode answers: %w", err)
	}
	return out, nil
}

func (s *QuizStore) DeleteRoom(ctx context.Context, roomCode string) error {
	if _, err := s.answers.DeleteMany(ctx, bson.M{"roomCode": roomCode}); err != nil {
		return fmt.Errorf("delete answers: %w", err)
	}
	if _, err := s.questions.DeleteMany(ctx, bson.M{"roomCode": roomCode}); err != nil {
		return fmt.Errorf("delete questions: %w", err)
	}
	return nil
}

func (s *QuizStore) findQuestion(ctx context.Context, filter bson.M, opts ...*options.FindOneOptions) (domain.Question, error) {
	var q domain.Question
	err := s.questions.FindOne(ctx, filter, opts...).Decode(&q)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	if err != nil {
		return domain.Question{}, fmt.Errorf("load question: %w", err)
	}
	return q, nil
}
