package bot

// User-facing strings. Raw errors never end up here; they go to the log.
const (
	btnSubscribe   = "✅ Подписаться"
	btnUnsubscribe = "❌ Отписаться"
	btnTomorrow    = "📅 Расписание на завтра"
	btnPickDate    = "📆 Выбрать дату"
	btnInfo        = "ℹ️ Информация"

	keyboardPlaceholder = "Выберите действие..."

	textBusy           = "⏳ Бот занят, попробуйте через минуту."
	textUnknownCommand = "Неизвестная команда. Список команд: /info"
	textUnauthorized   = "⛔ Команда доступна только администратору."
	textError          = "❌ Произошла ошибка. Попробуйте позже."

	textGreeting   = "👋 Привет, %s!"
	textStartIntro = "Я бот для рассылки расписания Лукояновского Губернского колледжа.\n\n" +
		"🔔 Я автоматически отправляю расписание на завтра каждый день в %s МСК.\n" +
		"📆 Вы можете выбрать любую дату и получить расписание на неё."
	textStatusSubscribed    = "✅ Вы уже подписаны на рассылку!"
	textStatusNotSubscribed = "❌ Вы пока не подписаны."
	textStartFooter         = "Используйте кнопки ниже для управления."

	textAlreadySubscribed = "✅ Вы уже подписаны на рассылку расписания!"
	textSubscribed        = "🎉 Отлично! Вы подписались на рассылку расписания.\n" +
		"Теперь вы будете получать уведомления о новом расписании автоматически!"
	textSubscribeFailed = "❌ Произошла ошибка при подписке. Попробуйте позже."
	textNotSubscribed   = "❌ Вы не подписаны на рассылку."
	textUnsubscribed    = "😢 Вы отписались от рассылки расписания.\n" +
		"Чтобы снова подписаться, нажмите кнопку 'Подписаться'."
	textUnsubscribeFailed = "❌ Произошла ошибка при отписке. Попробуйте позже."

	cbAlertAlreadySubscribed = "Вы уже подписаны!"
	cbAlertSubscribed        = "✅ Вы подписались!"
	cbAlertNotSubscribed     = "Вы не подписаны!"
	cbAlertUnsubscribed      = "❌ Вы отписались!"

	textLoadingTomorrow = "⏳ Загружаю расписание на завтра..."
	textLoading         = "⏳ Загружаю расписание..."
	textLoadingDate     = "Загружаю расписание на %s..."
	textNotPublished    = "❌ Расписание на %s пока не опубликовано.\n%s"
	textTryLater        = "Попробуйте позже."
	textTryOtherDate    = "Попробуйте выбрать другую дату."
	textSending         = "✅ Расписание уже отправляется!"
	textLoadFailed      = "❌ Произошла ошибка при загрузке расписания.\nПопробуйте позже."
	textBadDate         = "❌ Неверная дата."
	textPickDate        = "📆 Выберите дату для получения расписания:"
	captionForDate      = "📅 Расписание на %s"

	textInfo = "ℹ️ Информация о боте:\n\n" +
		"🤖 Я автоматически отправляю расписание на завтра каждый день в %s МСК\n" +
		"📸 Расписание берется с сайта колледжа\n" +
		"📆 Вы можете выбрать любую дату и получить расписание на неё\n\n" +
		"📌 Сайт колледжа: %s\n\n" +
		"Команды:\n%s"

	textCheckUnchanged = "Новое расписание не найдено, рассылка не нужна."
	textCheckSent      = "📤 Разослано новое расписание.\nУспешно: %d, ошибок: %d, заблокировали: %d, всего: %d"
)
